package worker

import (
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/service"
)

// StartNotificationWorker registers the realtime fan-out and, when a bot is
// configured, the feedback survey trigger.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, bot *service.BotService) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if bot != nil {
		bot.RegisterHandlers(dispatcher)
	}
}
