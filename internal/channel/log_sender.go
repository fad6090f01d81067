package channel

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender stands in for the broker in development. It logs every message
// and feedback submission and always succeeds.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, contactIdentity string, intent MessageIntent) (string, error) {
	id := uuid.NewString()
	s.logger.Info("sendOutboundStub",
		zap.String("contact", contactIdentity),
		zap.String("outbound_id", id),
		zap.String("kind", string(intent.Kind)),
		zap.Int("options", len(intent.Options)))
	return id, nil
}

func (s *LogSender) SubmitFeedback(_ context.Context, submission FeedbackSubmission) error {
	s.logger.Info("submitFeedbackStub",
		zap.String("conversation_id", submission.ConversationID),
		zap.String("session_id", submission.SessionID),
		zap.Int("answers", len(submission.Answers)),
		zap.Bool("complete", submission.Complete))
	return nil
}
