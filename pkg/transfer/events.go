package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ava-labs/near-relayer/pkg/journal"
	"github.com/ava-labs/near-relayer/pkg/queue"
)

// Event types.
const (
	EventStageCompleted    = "transfer.stage"
	EventTransferCompleted = "transfer.completed"
	EventTransferFailed    = "transfer.failed"
)

// Event is published after every recorded stage and once when a run ends.
type Event struct {
	Type       string        `json:"type"`
	Stage      journal.Stage `json:"stage"`
	Sender     string        `json:"sender"`
	Recipient  string        `json:"recipient"`
	Token      string        `json:"token"`
	Amount     string        `json:"amount"`
	WithdrawTx string        `json:"withdraw_tx,omitempty"`
	Class      Class         `json:"class,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// EventPublisher receives progress events. Publishing is best effort: a
// failure is logged and never fails the transfer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// QueueEvents publishes events as JSON to a queue topic, keyed by sender so
// the events of one account stay ordered.
type QueueEvents struct {
	publisher queue.QueuePublisher
	topic     string
}

func NewQueueEvents(publisher queue.QueuePublisher, topic string) *QueueEvents {
	return &QueueEvents{publisher: publisher, topic: topic}
}

func (q *QueueEvents) PublishEvent(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return q.publisher.Publish(ctx, queue.Msg{
		Topic: q.topic,
		Key:   []byte(ev.Sender),
		Value: value,
		Headers: map[string]string{
			"type":  ev.Type,
			"stage": ev.Stage.String(),
		},
	})
}

// Summary is the terminal record of one run.
type Summary struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Sender       string
	TokenAccount string
	TokenAddress string
	Recipient    string
	Amount       string
	Status       Status
	Class        Class
	Stage        journal.Stage
	Resumed      bool
	WithdrawTx   string
	UnlockTx     string
	Error        string
}

// HistoryRecorder stores run summaries. Like events, history is best effort.
type HistoryRecorder interface {
	RecordRun(ctx context.Context, s Summary) error
}
