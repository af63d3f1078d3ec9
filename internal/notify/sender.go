package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"account-service/internal/storage"
)

// LogSender writes verification links to the log instead of delivering them.
type LogSender struct {
	logger logrus.FieldLogger
}

func NewLogSender(logger logrus.FieldLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"email": msg.Email,
		"link":  msg.Link,
	}).Info("verification link")
	return nil
}

// OutboxSender stores each message as a JSON object for an external mailer to pick up.
type OutboxSender struct {
	store  storage.ObjectStore
	prefix string
}

func NewOutboxSender(store storage.ObjectStore, prefix string) *OutboxSender {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "verification"
	}
	return &OutboxSender{store: store, prefix: prefix}
}

func (s *OutboxSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := path.Join(s.prefix, msg.CreatedAt.UTC().Format("2006/01/02"), uuid.NewString()+".json")
	if _, err := s.store.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

// Pending lists the messages currently waiting in the outbox.
func (s *OutboxSender) Pending(ctx context.Context) ([]storage.ObjectInfo, error) {
	return s.store.List(ctx, s.prefix+"/")
}

var (
	_ Sender = (*LogSender)(nil)
	_ Sender = (*OutboxSender)(nil)
)
