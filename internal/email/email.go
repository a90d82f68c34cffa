package email

import (
	"context"
	"strings"

	"github.com/Domenick1991/venuebooking/internal/kafka"
	"github.com/sirupsen/logrus"
)

// Sender stands in for the outbound mail transport, which lives outside
// this service.
type Sender struct {
	logger *logrus.Logger
}

func NewSender(logger *logrus.Logger) *Sender {
	return &Sender{logger: logger}
}

func (s *Sender) Send(ctx context.Context, event kafka.NotificationEvent) error {
	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"type":  event.Type,
		"users": strings.Join(event.UserIDs, ","),
		"roles": strings.Join(event.Roles, ","),
	}).Info("send notification")
	return nil
}
