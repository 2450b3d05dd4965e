// Package sqsgath publishes recorded run batches to an SQS queue.
package sqsgath

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/programme-lv/tuner/api"
	"github.com/programme-lv/tuner/internal/run"
)

// SQSClient is the part of *sqs.Client the gatherer uses.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type Gatherer struct {
	client   SQSClient
	queueUrl string
	raceUuid string
	timeout  time.Duration
}

// New loads the default AWS configuration for the region.
func New(ctx context.Context, region, queueUrl, raceUuid string) (*Gatherer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewWithClient(sqs.NewFromConfig(cfg), queueUrl, raceUuid), nil
}

func NewWithClient(client SQSClient, queueUrl, raceUuid string) *Gatherer {
	return &Gatherer{client: client, queueUrl: queueUrl, raceUuid: raceUuid, timeout: 10 * time.Second}
}

// Append sends the batch as one message. It never rejects duplicates.
func (g *Gatherer) Append(outcomes []run.Outcome) error {
	msg := RunsRecorded{
		Header: Header{RaceUuid: g.raceUuid, MsgType: MsgTypeRunsRecorded},
		Runs:   make([]RunRecord, len(outcomes)),
	}
	for i, o := range outcomes {
		msg.Runs[i] = RunRecord{Request: api.NewRunReq(o.Request), State: api.NewRunState(i, o)}
	}
	return g.send(msg)
}

func (g *Gatherer) send(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	_, err = g.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(g.queueUrl),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
