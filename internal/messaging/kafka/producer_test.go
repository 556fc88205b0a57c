package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return NewProducerFromSync(mockProducer, log.WithField("component", "kafka-producer-test")), mockProducer
}

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestProducer_PublishEvent(t *testing.T) {
	producer, mockProducer := testProducer(t)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "order-123" {
			return errors.New("unexpected key " + string(key))
		}
		if headerMap(msg)[HeaderEventType] != "order.placed" {
			return errors.New("event type header is missing")
		}
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{"order_id": "order-123"},
		map[string]string{HeaderEventType: "order.placed"})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	producer, mockProducer := testProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	producer, mockProducer := testProducer(t)

	err := producer.PublishEvent(TopicOrderEvents, "k", func() {}, nil)
	assert.ErrorContains(t, err, "marshal")
	require.NoError(t, mockProducer.Close())
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "shop")
	assert.Error(t, err)
}

func TestEnvelope(t *testing.T) {
	envelope := Envelope{ID: "outbox-1", AggregateID: "order-1", Payload: json.RawMessage(`{}`)}
	assert.Equal(t, "order-1", envelope.PartitionKey())

	envelope.AggregateID = ""
	assert.Equal(t, "outbox-1", envelope.PartitionKey())
}
