package notify

import (
	"context"
	"fmt"

	"ckd-backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier tells an operator how a retrain ended. Implementations must not
// block the retrain on delivery failures.
type Notifier interface {
	RetrainFinished(ctx context.Context, job models.RetrainJob)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) RetrainFinished(context.Context, models.RetrainJob) {}

// sender is the slice of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts retrain outcomes to one admin chat.
type Telegram struct {
	api    sender
	chatID int64
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	botAPI, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))
	return &Telegram{api: botAPI, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) RetrainFinished(_ context.Context, job models.RetrainJob) {
	msg := tgbotapi.NewMessage(t.chatID, FormatRetrain(job))
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send retrain notification",
			zap.String("job_id", job.ID),
			zap.Int64("chat_id", t.chatID),
			zap.Error(err),
		)
	}
}

// FormatRetrain renders the notification text for a finished job.
func FormatRetrain(job models.RetrainJob) string {
	switch job.Status {
	case models.JobStatusCompleted:
		acc := 0.0
		if job.Accuracy != nil {
			acc = *job.Accuracy * 100
		}
		return fmt.Sprintf("CKD model retrained\nFamily: %s\nVersion: %s\nAccuracy: %.2f%%", job.Family, job.ModelVersion, acc)
	case models.JobStatusCancelled:
		return fmt.Sprintf("CKD model retrain %s was cancelled", job.ID)
	default:
		return fmt.Sprintf("CKD model retrain %s failed: %s", job.ID, job.ErrorMessage)
	}
}
