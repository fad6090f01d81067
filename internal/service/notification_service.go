package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/realtime"
)

// NotificationService fans committed domain events out to connected staff and,
// when configured, mirrors ownership changes to an outbound webhook.
type NotificationService struct {
	dispatcher events.Dispatcher
	notifier   realtime.Notifier
	logger     *zap.Logger
	cfg        config.NotificationConfig
	client     *http.Client
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, notifier realtime.Notifier, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     loggerOrNop(logger),
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.WebhookTimeout},
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventMessageReceived, n.handleMessage)
	n.dispatcher.Subscribe(events.EventMessageSent, n.handleMessage)
	n.dispatcher.Subscribe(events.EventConversationAssigned, n.handleOwnership)
	n.dispatcher.Subscribe(events.EventConversationArchived, n.handleOwnership)
	n.dispatcher.Subscribe(events.EventSessionStatusChanged, n.handleMessage)
}

func (n *NotificationService) handleMessage(ctx context.Context, event events.Event) error {
	n.forward(ctx, event)
	return nil
}

func (n *NotificationService) handleOwnership(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("conversation_id", event.ConversationID),
		zap.Strings("recipients", event.Recipients))
	n.forward(ctx, event)
	if strings.TrimSpace(n.cfg.WebhookURL) != "" {
		go n.postWebhook(context.WithoutCancel(ctx), event)
	}
	return nil
}

// forward pushes the event to every recipient's realtime connection.
func (n *NotificationService) forward(ctx context.Context, event events.Event) {
	if n.notifier == nil {
		return
	}
	for _, staffID := range event.Recipients {
		n.notifier.Notify(ctx, staffID, string(event.Type), event)
	}
}

// postWebhook delivers one event. Failures are logged and not retried.
func (n *NotificationService) postWebhook(ctx context.Context, event events.Event) {
	if err := n.deliver(ctx, event); err != nil {
		n.logger.Warn("notification webhook failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(event.Type))
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}
