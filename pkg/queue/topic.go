package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const metadataTimeout = 10 * time.Second

// TopicConfig describes the topic events are published to.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

func (tc TopicConfig) Validate() error {
	if tc.Name == "" {
		return errors.New("topic name cannot be empty")
	}
	if tc.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be > 0, got %d", tc.NumPartitions)
	}
	if tc.ReplicationFactor <= 0 {
		return fmt.Errorf("replication factor must be > 0, got %d", tc.ReplicationFactor)
	}
	return nil
}

// topicAdmin is the part of *kafka.AdminClient used here.
type topicAdmin interface {
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
}

// EnsureTopic creates the topic through the producer's connection unless it
// already exists.
func (q *KafkaPublisher) EnsureTopic(ctx context.Context, cfg TopicConfig) error {
	admin, err := kafka.NewAdminClientFromProducer(q.producer)
	if err != nil {
		return fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer admin.Close()
	return ensureTopic(ctx, admin, cfg, q.log)
}

// ensureTopic creates a missing topic. An existing topic is left alone; a
// layout different from cfg is only logged since partitions cannot shrink
// and the replication factor cannot change through the admin API.
func ensureTopic(ctx context.Context, admin topicAdmin, cfg TopicConfig, log *zap.SugaredLogger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid topic config: %w", err)
	}

	md, err := admin.GetMetadata(&cfg.Name, false, int(metadataTimeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to get metadata for topic %q: %w", cfg.Name, err)
	}
	topic, exists := md.Topics[cfg.Name]
	if exists && topic.Error.Code() != kafka.ErrUnknownTopicOrPart {
		if topic.Error.Code() != kafka.ErrNoError {
			return fmt.Errorf("topic %q has error: %w", cfg.Name, topic.Error)
		}
		if len(topic.Partitions) != cfg.NumPartitions || replicationFactor(topic) != cfg.ReplicationFactor {
			log.Warnw("topic layout differs from config",
				"topic", cfg.Name,
				"partitions", len(topic.Partitions),
				"replicationFactor", replicationFactor(topic),
				"wantPartitions", cfg.NumPartitions,
				"wantReplicationFactor", cfg.ReplicationFactor,
			)
		}
		return nil
	}

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", cfg.Name, err)
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError:
			log.Infow("created topic", "topic", r.Topic, "partitions", cfg.NumPartitions)
		case kafka.ErrTopicAlreadyExists:
			// Created concurrently by someone else.
		default:
			return fmt.Errorf("failed to create topic %q: %w", r.Topic, r.Error)
		}
	}
	return nil
}

func replicationFactor(md kafka.TopicMetadata) int {
	if len(md.Partitions) == 0 {
		return 0
	}
	return len(md.Partitions[0].Replicas)
}
