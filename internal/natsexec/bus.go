// Package natsexec moves run batches between a tuner and remote workers over
// NATS.
package natsexec

import (
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus is the slice of a NATS connection the transport needs.
type Bus interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, handler func(data []byte)) (unsubscribe func() error, err error)
	// QueueSubscribe delivers each message to one member of the queue group.
	QueueSubscribe(subj, queue string, handler func(data []byte)) (unsubscribe func() error, err error)
	NewInbox() string
}

type natsBus struct {
	nc *nats.Conn
}

// NewNatsBus adapts a NATS connection.
func NewNatsBus(nc *nats.Conn) Bus {
	return natsBus{nc: nc}
}

func (b natsBus) Publish(subj string, data []byte) error {
	return b.nc.Publish(subj, data)
}

func (b natsBus) Subscribe(subj string, handler func(data []byte)) (func() error, error) {
	sub, err := b.nc.Subscribe(subj, func(m *nats.Msg) { handler(m.Data) })
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (b natsBus) QueueSubscribe(subj, queue string, handler func(data []byte)) (func() error, error) {
	sub, err := b.nc.QueueSubscribe(subj, queue, func(m *nats.Msg) { handler(m.Data) })
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (b natsBus) NewInbox() string {
	return b.nc.NewInbox()
}

// MemoryBus is an in-process Bus with exact subject matching. Every
// subscription gets its messages in publish order on its own goroutine.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]*memSub
	queues map[string]int
	inbox  int
}

type memSub struct {
	queue string
	ch    chan []byte
	stop  chan struct{}
	once  sync.Once
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub), queues: make(map[string]int)}
}

func (b *MemoryBus) Publish(subj string, data []byte) error {
	b.mu.Lock()
	var targets []*memSub
	picked := make(map[string]bool)
	for _, s := range b.subs[subj] {
		if s.queue == "" {
			targets = append(targets, s)
		} else if !picked[s.queue] {
			picked[s.queue] = true
			members := b.members(subj, s.queue)
			n := b.queues[subj+" "+s.queue]
			b.queues[subj+" "+s.queue] = n + 1
			targets = append(targets, members[n%len(members)])
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- data:
		case <-s.stop:
		}
	}
	return nil
}

func (b *MemoryBus) members(subj, queue string) []*memSub {
	var res []*memSub
	for _, s := range b.subs[subj] {
		if s.queue == queue {
			res = append(res, s)
		}
	}
	return res
}

func (b *MemoryBus) Subscribe(subj string, handler func(data []byte)) (func() error, error) {
	return b.QueueSubscribe(subj, "", handler)
}

func (b *MemoryBus) QueueSubscribe(subj, queue string, handler func(data []byte)) (func() error, error) {
	s := &memSub{queue: queue, ch: make(chan []byte, 256), stop: make(chan struct{})}
	b.mu.Lock()
	b.subs[subj] = append(b.subs[subj], s)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case data := <-s.ch:
				handler(data)
			case <-s.stop:
				return
			}
		}
	}()

	return func() error {
		b.mu.Lock()
		subs := b.subs[subj]
		for i, x := range subs {
			if x == s {
				b.subs[subj] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		s.once.Do(func() { close(s.stop) })
		return nil
	}, nil
}

func (b *MemoryBus) NewInbox() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbox++
	return "_INBOX.mem." + strconv.Itoa(b.inbox)
}
