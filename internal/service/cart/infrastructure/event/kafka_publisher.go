package event

import (
	"context"
	"encoding/json"

	"nexus-cart/internal/pkg/mq"
	"nexus-cart/internal/service/cart/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "event-type"
	EventCartReclaimed = "cart.reclaimed"
)

// KafkaPublisher 是 port.EventPublisher 的 Kafka 实现，以 owner 作为消息 key
type KafkaPublisher struct {
	writer mq.MessageWriter
}

func NewKafkaPublisher(writer mq.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// PublishCartReclaimed 批量发送，所有消息都带追踪上下文
func (p *KafkaPublisher) PublishCartReclaimed(ctx context.Context, events []domain.CartReclaimed) error {
	msgs, err := BuildMessages(ctx, events)
	if err != nil {
		return err
	}
	return mq.ProduceMessages(ctx, p.writer, msgs...)
}

// BuildMessages 把事件转换为 kafka 消息
func BuildMessages(ctx context.Context, events []domain.CartReclaimed) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal event %s", e.EventID)
		}
		msg := mq.NewMessage(ctx, []byte(e.Owner), body)
		msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderEventType, Value: []byte(EventCartReclaimed)})
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// NoopPublisher 未配置 Kafka 时使用
type NoopPublisher struct{}

func (NoopPublisher) PublishCartReclaimed(context.Context, []domain.CartReclaimed) error { return nil }
