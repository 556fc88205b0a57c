package kafka

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// OutboxTopicPublisher публикует события заказов из outbox в заданный topic.
type OutboxTopicPublisher struct {
	producer      *Producer
	topic         string
	originalTopic string
	now           func() time.Time
}

// NewOutboxPublisher создаёт паблишер основного потока событий заказов.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewDLQPublisher создаёт паблишер для событий, исчерпавших попытки публикации в originalTopic.
func NewDLQPublisher(producer *Producer, originalTopic string) *OutboxTopicPublisher {
	if originalTopic == "" {
		originalTopic = TopicOrderEvents
	}
	p := NewOutboxPublisher(producer, originalTopic+".dlq")
	p.originalTopic = originalTopic
	return p
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	now := p.now()
	envelope := NewEnvelope(event, now)
	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
	}
	if p.originalTopic != "" {
		headers[HeaderOriginalTopic] = p.originalTopic
		headers[HeaderFailedAt] = now.Format(time.RFC3339Nano)
	}

	return p.producer.PublishEvent(p.topic, envelope.PartitionKey(), envelope, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
