package events

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bytedance/sonic"

	"github.com/tphakala/camhal/internal/errors"
)

// DefaultTopic is the topic notifications are published on
const DefaultTopic = "camhal.notifications"

// metadataKind is the message metadata key carrying the notification kind
const metadataKind = "kind"

var codec = sonic.ConfigStd

// NewGoChannelPubSub builds an in-process watermill pub/sub for notifications.
// Publish returns once every subscriber acked the message; messages published
// while nobody is subscribed are discarded.
func NewGoChannelPubSub(log *slog.Logger, outputBuffer int64) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            outputBuffer,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewSlogLogger(log),
	)
}

// WatermillConsumer republishes notifications as JSON messages so out-of-process
// observers can subscribe through any watermill transport
type WatermillConsumer struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillConsumer creates a consumer publishing to topic (DefaultTopic when empty)
func NewWatermillConsumer(publisher message.Publisher, topic string) *WatermillConsumer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillConsumer{publisher: publisher, topic: topic}
}

func (c *WatermillConsumer) Name() string { return "watermill" }

func (c *WatermillConsumer) ProcessNotification(n Notification) error {
	payload, err := codec.Marshal(n)
	if err != nil {
		return errors.New(err).
			Component("events").
			Category(errors.CategoryEventBus).
			Context("kind", string(n.Kind)).
			Build()
	}

	id := n.ID
	if id == "" {
		id = watermill.NewULID()
	}
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(metadataKind, string(n.Kind))

	if err := c.publisher.Publish(c.topic, msg); err != nil {
		return errors.New(err).
			Component("events").
			Category(errors.CategoryEventBus).
			Context("topic", c.topic).
			Build()
	}
	return nil
}

// DecodeNotification parses a message produced by WatermillConsumer
func DecodeNotification(msg *message.Message) (Notification, error) {
	var n Notification
	if err := codec.Unmarshal(msg.Payload, &n); err != nil {
		return Notification{}, errors.New(err).
			Component("events").
			Category(errors.CategoryValidation).
			Context("message_uuid", msg.UUID).
			Build()
	}
	return n, nil
}
