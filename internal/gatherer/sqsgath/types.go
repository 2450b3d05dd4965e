package sqsgath

import "github.com/programme-lv/tuner/api"

const MsgTypeRunsRecorded = "runs_recorded"

type Header struct {
	RaceUuid string `json:"race_uuid"`
	MsgType  string `json:"msg_type"`
}

// RunsRecorded is one history batch.
type RunsRecorded struct {
	Header
	Runs []RunRecord `json:"runs"`
}

type RunRecord struct {
	Request api.RunReq   `json:"request"`
	State   api.RunState `json:"state"`
}
