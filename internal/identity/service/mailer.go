package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/logging"
)

// Mailer delivers verification and password reset tokens to users.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer writes tokens to the log at debug level. It is the default when
// no outbound mail integration is configured.
type LogMailer struct {
	log logrus.FieldLogger
}

// NewLogMailer returns a LogMailer. log may be nil.
func NewLogMailer(log logrus.FieldLogger) *LogMailer {
	return &LogMailer{log: logging.OrDiscard(log)}
}

func (m *LogMailer) SendVerification(_ context.Context, email, token string) error {
	m.log.WithFields(logrus.Fields{"email": email, "token": token}).Debug("verification token issued")
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.log.WithFields(logrus.Fields{"email": email, "token": token}).Debug("password reset token issued")
	return nil
}
