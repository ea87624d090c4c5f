package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
)

type snapshotRebuilt struct {
	Version int64 `json:"version"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[snapshotRebuilt]([]byte(`{"version":42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Version)

	_, err = DecodeJSON[snapshotRebuilt]([]byte(`{`))
	assert.Error(t, err)
}

func TestToMessage(t *testing.T) {
	msg, err := toMessage(Event{Key: "q1", Value: snapshotRebuilt{Version: 7}})
	require.NoError(t, err)
	assert.Equal(t, "q1", string(msg.Key))
	assert.JSONEq(t, `{"version":7}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "application/json", string(msg.Headers[0].Value))

	_, err = toMessage(Event{Key: "bad", Value: make(chan int)})
	assert.Error(t, err)
}

func TestConsumerOptions(t *testing.T) {
	rc := kafka.ReaderConfig{StartOffset: kafka.LastOffset, GroupID: "a"}
	FromEarliest()(&rc)
	WithGroupID("analytics")(&rc)
	assert.Equal(t, kafka.FirstOffset, rc.StartOffset)
	assert.Equal(t, "analytics", rc.GroupID)
}

func TestPublishBatchRejectsBadValueBeforeWriting(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "retrieval.events")
	defer p.Close()
	require.NoError(t, p.PublishBatch(context.Background(), nil))
	err := p.PublishBatch(context.Background(), []Event{{Key: "ok", Value: 1}, {Key: "bad", Value: func() {}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `encoding event "bad"`)
}
