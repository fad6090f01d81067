package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/events"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingNotifier) Notify(_ context.Context, staffID, topic string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, staffID+":"+topic)
}

func TestNotificationsReachRecipientsAndWebhook(t *testing.T) {
	hooks := make(chan events.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev events.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			hooks <- ev
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dispatcher := events.NewInMemoryDispatcher()
	notifier := &recordingNotifier{}
	svc := NewNotificationService(dispatcher, notifier, zap.NewNop(), config.NotificationConfig{
		WebhookURL:     srv.URL,
		WebhookTimeout: time.Second,
	})
	svc.RegisterHandlers()

	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		ID: "e1", Type: events.EventConversationAssigned, ConversationID: "c1", Recipients: []string{"a1", "a2"},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		ID: "e2", Type: events.EventMessageReceived, ConversationID: "c1", Recipients: []string{"a1"},
	}))

	select {
	case ev := <-hooks:
		assert.Equal(t, "e1", ev.ID)
		assert.Equal(t, events.EventConversationAssigned, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{
		"a1:conversation_assigned",
		"a2:conversation_assigned",
		"a1:message_received",
	}, notifier.calls)
}

func TestWebhookDeliveryReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewNotificationService(nil, nil, nil, config.NotificationConfig{WebhookURL: srv.URL, WebhookTimeout: time.Second})
	err := svc.deliver(context.Background(), events.Event{ID: "e1", Type: events.EventConversationArchived})
	assert.ErrorContains(t, err, "502")
}
