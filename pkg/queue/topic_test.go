package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeAdmin struct {
	metadata  *kafka.Metadata
	metaErr   error
	results   []kafka.TopicResult
	createErr error
	created   []kafka.TopicSpecification
}

func (f *fakeAdmin) GetMetadata(*string, bool, int) (*kafka.Metadata, error) {
	return f.metadata, f.metaErr
}

func (f *fakeAdmin) CreateTopics(_ context.Context, topics []kafka.TopicSpecification, _ ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error) {
	f.created = append(f.created, topics...)
	return f.results, f.createErr
}

func metadataWith(name string, partitions, replicas int, code kafka.ErrorCode) *kafka.Metadata {
	topic := kafka.TopicMetadata{Topic: name, Error: kafka.NewError(code, "", false)}
	for i := range partitions {
		topic.Partitions = append(topic.Partitions, kafka.PartitionMetadata{
			ID:       int32(i),
			Replicas: make([]int32, replicas),
		})
	}
	return &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{name: topic}}
}

var eventsTopic = TopicConfig{Name: "near-relayer.transfers", NumPartitions: 3, ReplicationFactor: 2}

func TestEnsureTopic_CreatesMissing(t *testing.T) {
	admin := &fakeAdmin{
		metadata: &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{}},
		results: []kafka.TopicResult{
			{Topic: eventsTopic.Name, Error: kafka.NewError(kafka.ErrNoError, "", false)},
		},
	}

	require.NoError(t, ensureTopic(t.Context(), admin, eventsTopic, zap.NewNop().Sugar()))

	require.Len(t, admin.created, 1)
	assert.Equal(t, kafka.TopicSpecification{Topic: eventsTopic.Name, NumPartitions: 3, ReplicationFactor: 2}, admin.created[0])
}

func TestEnsureTopic_UnknownTopicIsCreated(t *testing.T) {
	admin := &fakeAdmin{
		metadata: metadataWith(eventsTopic.Name, 0, 0, kafka.ErrUnknownTopicOrPart),
		results: []kafka.TopicResult{
			{Topic: eventsTopic.Name, Error: kafka.NewError(kafka.ErrTopicAlreadyExists, "exists", false)},
		},
	}

	require.NoError(t, ensureTopic(t.Context(), admin, eventsTopic, zap.NewNop().Sugar()))
	assert.Len(t, admin.created, 1)
}

func TestEnsureTopic_ExistingLayoutMismatchWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	admin := &fakeAdmin{metadata: metadataWith(eventsTopic.Name, 1, 1, kafka.ErrNoError)}

	require.NoError(t, ensureTopic(t.Context(), admin, eventsTopic, zap.New(core).Sugar()))

	assert.Empty(t, admin.created)
	assert.Equal(t, 1, logs.FilterMessage("topic layout differs from config").Len())
}

func TestEnsureTopic_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TopicConfig
		admin   *fakeAdmin
		wantErr string
	}{
		{
			name:    "invalid config",
			cfg:     TopicConfig{Name: "t"},
			admin:   &fakeAdmin{},
			wantErr: "number of partitions",
		},
		{
			name:    "metadata failure",
			cfg:     eventsTopic,
			admin:   &fakeAdmin{metaErr: errors.New("timed out")},
			wantErr: "failed to get metadata",
		},
		{
			name:    "topic error",
			cfg:     eventsTopic,
			admin:   &fakeAdmin{metadata: metadataWith(eventsTopic.Name, 1, 1, kafka.ErrTopicAuthorizationFailed)},
			wantErr: "has error",
		},
		{
			name: "create failure",
			cfg:  eventsTopic,
			admin: &fakeAdmin{
				metadata: &kafka.Metadata{Topics: map[string]kafka.TopicMetadata{}},
				results: []kafka.TopicResult{
					{Topic: eventsTopic.Name, Error: kafka.NewError(kafka.ErrPolicyViolation, "denied", false)},
				},
			},
			wantErr: "failed to create topic",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ensureTopic(t.Context(), tt.admin, tt.cfg, zap.NewNop().Sugar())
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
