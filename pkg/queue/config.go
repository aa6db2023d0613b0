package queue

import (
	"errors"
	"fmt"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaConfig configures the event publisher. Publishing is disabled when no
// brokers are set.
type KafkaConfig struct {
	Brokers          string `env:"KAFKA_BROKERS"`
	Topic            string `env:"KAFKA_EVENTS_TOPIC" envDefault:"near-relayer.transfers"`
	ClientID         string `env:"KAFKA_CLIENT_ID" envDefault:"near-relayer"`
	Acks             string `env:"KAFKA_ACKS" envDefault:"all"`
	MessageTimeoutMs int    `env:"KAFKA_MESSAGE_TIMEOUT_MS" envDefault:"30000"`
	SASLMechanism    string `env:"KAFKA_SASL_MECHANISM"`
	SASLUsername     string `env:"KAFKA_SASL_USERNAME"`
	SASLPassword     string `env:"KAFKA_SASL_PASSWORD"`
	DebugLogs        bool   `env:"KAFKA_DEBUG_LOGS" envDefault:"false"`

	CreateTopic       bool `env:"KAFKA_CREATE_TOPIC" envDefault:"false"`
	TopicPartitions   int  `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"1"`
	TopicReplicaCount int  `env:"KAFKA_TOPIC_REPLICATION_FACTOR" envDefault:"1"`
}

// LoadKafkaConfig reads the publisher configuration from the environment.
func LoadKafkaConfig() (KafkaConfig, error) {
	var cfg KafkaConfig
	if err := env.Parse(&cfg); err != nil {
		return KafkaConfig{}, fmt.Errorf("parse kafka config: %w", err)
	}
	return cfg, nil
}

func (c KafkaConfig) Enabled() bool {
	return c.Brokers != ""
}

// EventsTopic is the layout used when CreateTopic is set.
func (c KafkaConfig) EventsTopic() TopicConfig {
	return TopicConfig{
		Name:              c.Topic,
		NumPartitions:     c.TopicPartitions,
		ReplicationFactor: c.TopicReplicaCount,
	}
}

var saslMechanisms = []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"}

// ConfigMap builds the librdkafka producer configuration.
func (c KafkaConfig) ConfigMap() (*kafka.ConfigMap, error) {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":      c.Brokers,
		"client.id":              c.ClientID,
		"acks":                   c.Acks,
		"enable.idempotence":     c.Acks == "all",
		"message.timeout.ms":     c.MessageTimeoutMs,
		"go.logs.channel.enable": c.DebugLogs,
	}
	if c.SASLMechanism == "" {
		return cm, nil
	}

	if !slices.Contains(saslMechanisms, c.SASLMechanism) {
		return nil, fmt.Errorf("unsupported sasl mechanism %q", c.SASLMechanism)
	}
	if c.SASLUsername == "" || c.SASLPassword == "" {
		return nil, errors.New("sasl mechanism set without username and password")
	}
	for _, kv := range []struct {
		key   string
		value string
	}{
		{"security.protocol", "SASL_SSL"},
		{"sasl.mechanisms", c.SASLMechanism},
		{"sasl.username", c.SASLUsername},
		{"sasl.password", c.SASLPassword},
	} {
		if err := cm.SetKey(kv.key, kv.value); err != nil {
			return nil, fmt.Errorf("set %s: %w", kv.key, err)
		}
	}
	return cm, nil
}
