package outbox

import (
	"context"

	"github.com/hasledger/hasledger/internal/platform/kafka"
)

// Publisher is the slice of the Kafka producer the relay needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, messages ...kafka.Message) error
}

// KafkaRelay forwards a row's payload to topic keyed by its ref, so every
// event of one transaction lands on the same partition.
func KafkaRelay(pub Publisher, topic string) HandlerFunc {
	return func(ctx context.Context, e Entry) error {
		return pub.Publish(ctx, topic, kafka.Message{
			Key:   []byte(e.Ref),
			Value: e.Payload,
			Headers: map[string]string{
				"content-type": "application/json",
				"event-kind":   string(e.Kind),
				"event-id":     e.ID.String(),
			},
		})
	}
}
