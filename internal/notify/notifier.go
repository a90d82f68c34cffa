// Package notify is the fire-and-forget boundary to push and email
// delivery. Callers never see delivery failures.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Domenick1991/venuebooking/internal/domain"
	"github.com/Domenick1991/venuebooking/internal/kafka"
	"github.com/sirupsen/logrus"
)

const (
	EventBookingPaid       = "booking_paid"
	EventBookingRejected   = "booking_rejected"
	EventBookingCancelled  = "booking_cancelled"
	EventTicketsDelayed    = "tickets_delayed"
	EventChangeMerged      = "change_request_merged"
	EventChangeStaged      = "change_request_staged"
	EventOfferDeactivated  = "offer_deactivated"
	EventOfferReactivated  = "offer_reactivated"
	EventLoyaltyDeactivate = "loyalty_deactivated"
	EventLoyaltyReactivate = "loyalty_reactivated"
)

// Recipients selects who receives a notification.
type Recipients struct {
	UserIDs []string
	Roles   []domain.Role
}

func User(id string) Recipients {
	return Recipients{UserIDs: []string{id}}
}

func Role(r domain.Role) Recipients {
	return Recipients{Roles: []domain.Role{r}}
}

type Notifier interface {
	Notify(ctx context.Context, event string, to Recipients, payload any)
}

type Publisher interface {
	PublishWithRetry(ctx context.Context, topic, key string, value interface{}, maxRetries int) error
}

const (
	publishRetries   = 3
	defaultQueueSize = 1024
	flushTimeout     = 5 * time.Second
)

type outbound struct {
	key string
	msg kafka.NotificationEvent
	log *logrus.Entry
}

// KafkaNotifier hands notifications to the worker through Kafka. Notify
// only enqueues; Run does the publishing.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	queue     chan outbound
	logger    *logrus.Logger
}

type KafkaNotifierOption func(*KafkaNotifier)

// WithQueueSize bounds how many notifications wait for Run. Notifications
// past the bound are dropped.
func WithQueueSize(n int) KafkaNotifierOption {
	return func(k *KafkaNotifier) {
		k.queue = make(chan outbound, n)
	}
}

func NewKafkaNotifier(publisher Publisher, topic string, logger *logrus.Logger, opts ...KafkaNotifierOption) *KafkaNotifier {
	n := &KafkaNotifier{
		publisher: publisher,
		topic:     topic,
		queue:     make(chan outbound, defaultQueueSize),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *KafkaNotifier) Notify(ctx context.Context, event string, to Recipients, payload any) {
	log := n.logger.WithContext(ctx).WithField("event", event)

	body, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("encode notification payload")
		return
	}
	msg := kafka.NotificationEvent{
		Type:       event,
		UserIDs:    to.UserIDs,
		Payload:    body,
		OccurredAt: time.Now().UTC(),
	}
	for _, r := range to.Roles {
		msg.Roles = append(msg.Roles, string(r))
	}

	key := event
	if len(to.UserIDs) > 0 {
		key = to.UserIDs[0]
	}
	select {
	case n.queue <- outbound{key: key, msg: msg, log: log}:
	default:
		log.Warn("notification queue full, dropping")
	}
}

// Run publishes queued notifications until ctx is done. What is still
// queued then gets flushTimeout to go out.
func (n *KafkaNotifier) Run(ctx context.Context) error {
	for {
		select {
		case out := <-n.queue:
			n.publish(ctx, out)
		case <-ctx.Done():
			return n.flush(context.WithoutCancel(ctx))
		}
	}
}

func (n *KafkaNotifier) flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	for {
		select {
		case out := <-n.queue:
			n.publish(ctx, out)
		default:
			return nil
		}
	}
}

func (n *KafkaNotifier) publish(ctx context.Context, out outbound) {
	if err := n.publisher.PublishWithRetry(ctx, n.topic, out.key, out.msg, publishRetries); err != nil {
		out.log.WithError(err).Warn("notification dropped")
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, Recipients, any) {}

var (
	_ Notifier = (*KafkaNotifier)(nil)
	_ Notifier = Nop{}
)
