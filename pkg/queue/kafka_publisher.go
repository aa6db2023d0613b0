package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// KafkaPublisher is a synchronous QueuePublisher: Publish returns once Kafka
// acknowledges the message.
//
// Background goroutines drain producer events and, when enabled, librdkafka
// logs. Close stops them and flushes the producer.
type KafkaPublisher struct {
	producer   *kafka.Producer
	log        *zap.SugaredLogger
	errCh      chan error
	eventsDone chan struct{}
	logsDone   chan struct{}
	closedCh   chan struct{}
	once       sync.Once
}

var _ QueuePublisher = (*KafkaPublisher)(nil)

const (
	flushTimeoutMs   = 10000
	queueFullBackoff = time.Second
)

// NewKafkaPublisher creates the producer. ctx bounds the background
// goroutines; Close must still be called.
func NewKafkaPublisher(ctx context.Context, conf *kafka.ConfigMap, log *zap.SugaredLogger) (*KafkaPublisher, error) {
	logsEnabled, err := conf.Get("go.logs.channel.enable", false)
	if err != nil {
		return nil, fmt.Errorf("failed to get go.logs.channel.enable: %w", err)
	}
	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	q := &KafkaPublisher{
		producer:   p,
		log:        log.With("component", "kafka-publisher"),
		errCh:      make(chan error, 1),
		eventsDone: make(chan struct{}),
		logsDone:   make(chan struct{}),
		closedCh:   make(chan struct{}),
	}

	if enabled, _ := logsEnabled.(bool); enabled {
		go q.forwardLogs(ctx)
	} else {
		close(q.logsDone)
	}
	go q.monitorEvents(ctx)

	return q, nil
}

// Publish produces msg and waits for its delivery report.
//
// If ctx ends first, Publish returns ctx.Err() but the message may still be
// delivered. Consumers must tolerate duplicates.
func (q *KafkaPublisher) Publish(ctx context.Context, msg Msg) error {
	deliveryCh := make(chan kafka.Event, 1)
	kMsg := toKafkaMessage(msg)

	if err := q.produce(ctx, kMsg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryCh:
		return handleDeliveryEvent(q.log, kMsg, e)
	}
}

// Close stops the background goroutines and flushes the producer until the
// queue is empty or ctx ends. Repeated calls do nothing.
func (q *KafkaPublisher) Close(ctx context.Context) {
	q.once.Do(func() {
		defer close(q.errCh)

		close(q.closedCh)
		<-q.eventsDone
		<-q.logsDone

		defer q.producer.Close()
		for q.producer.Flush(flushTimeoutMs) > 0 {
			q.log.Warn("producer queue not flushed, retrying")
			if ctx.Err() != nil {
				q.log.Warnw("abandoning flush", "pending", q.producer.Len())
				return
			}
		}
		q.log.Info("kafka publisher closed")
	})
}

// Errors receives at most one fatal producer error and is closed on shutdown.
// After an error the publisher must be closed and recreated.
func (q *KafkaPublisher) Errors() <-chan error {
	return q.errCh
}

func toKafkaMessage(msg Msg) *kafka.Message {
	topic := msg.Topic
	kMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
	}
	if len(msg.Headers) == 0 {
		return kMsg
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kMsg.Headers = make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		kMsg.Headers = append(kMsg.Headers, kafka.Header{Key: k, Value: []byte(msg.Headers[k])})
	}
	return kMsg
}

// produce enqueues msg, waiting while the local queue is full.
func (q *KafkaPublisher) produce(ctx context.Context, msg *kafka.Message, deliveryCh chan kafka.Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := q.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		var kafkaErr kafka.Error
		if !errors.As(err, &kafkaErr) {
			return fmt.Errorf("failed to produce: %w", err)
		}
		if kafkaErr.Code() != kafka.ErrQueueFull {
			return produceError(kafkaErr)
		}

		q.log.Warn("producer queue full, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(queueFullBackoff):
		}
	}
}

func produceError(err kafka.Error) error {
	switch err.Code() {
	case kafka.ErrBrokerNotAvailable:
		return fmt.Errorf("broker not available: %w", err)
	case kafka.ErrInvalidMsgSize:
		return fmt.Errorf("invalid message size: %w", err)
	case kafka.ErrInvalidMsg:
		return fmt.Errorf("invalid message: %w", err)
	case kafka.ErrUnknownTopicOrPart:
		return fmt.Errorf("unknown topic or partition: %w", err)
	case kafka.ErrAuthentication:
		return fmt.Errorf("authentication error: %w", err)
	default:
		return fmt.Errorf("failed to produce: %w", err)
	}
}

func (q *KafkaPublisher) forwardLogs(ctx context.Context) {
	defer close(q.logsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case l, ok := <-q.producer.Logs():
			if !ok {
				return
			}
			q.log.Debugw("librdkafka", "level", l.Level, "tag", l.Tag, "message", l.Message)
		}
	}
}

func (q *KafkaPublisher) monitorEvents(ctx context.Context) {
	defer close(q.eventsDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closedCh:
			return
		case ev, ok := <-q.producer.Events():
			if !ok {
				q.fail(errors.New("kafka producer event channel closed"))
				return
			}
			switch e := ev.(type) {
			case kafka.Error:
				if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
					q.fail(fmt.Errorf("fatal kafka error %#x: %w", e.Code(), e))
					return
				}
				q.log.Warnw("ignoring kafka error", "code", e.Code(), "error", e)
			case *kafka.Message:
				// Delivery reports go to the per-message channel.
				q.log.Warnw("unexpected delivery report", "topicPartition", e.TopicPartition)
			default:
				q.log.Debugw("kafka event", "event", e.String())
			}
		}
	}
}

func (q *KafkaPublisher) fail(err error) {
	select {
	case q.errCh <- err:
	default:
		q.log.Warnw("dropping producer error", "error", err)
	}
}

func handleDeliveryEvent(log *zap.SugaredLogger, msg *kafka.Message, ev kafka.Event) error {
	switch e := ev.(type) {
	case *kafka.Message:
		if err := e.TopicPartition.Error; err != nil {
			return fmt.Errorf("delivery failed: %w", err)
		}
		if !slices.Equal(e.Value, msg.Value) {
			return errors.New("delivery report does not match the produced message")
		}
		log.Debugw("message delivered",
			"topic", *msg.TopicPartition.Topic,
			"partition", e.TopicPartition.Partition,
			"offset", e.TopicPartition.Offset,
		)
		return nil
	case kafka.Error:
		return fmt.Errorf("kafka error: code=%d fatal=%t: %w", e.Code(), e.IsFatal(), e)
	default:
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
}
