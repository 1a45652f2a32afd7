package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tudobem/internal/models"
)

const commentPreviewLimit = 150

// TelegramConfig selects the bot and the admin chat
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	// AdminURL, when set, is linked from every report notification
	AdminURL string `yaml:"admin_url"`
}

// sender is the part of tgbotapi.BotAPI used here
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts admin alerts to a single chat
type Telegram struct {
	api      sender
	chatID   int64
	adminURL string
	logger   *zap.Logger
}

// NewNotifier returns a Telegram notifier, or Nop when the bot is disabled
// or not configured
func NewNotifier(cfg TelegramConfig, logger *zap.Logger) (Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == 0 {
		logger.Info("Telegram notifications are disabled (telegram.enabled=false, token or chat id is empty)")
		return Nop{}, nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return newTelegram(botAPI, cfg, logger), nil
}

func newTelegram(api sender, cfg TelegramConfig, logger *zap.Logger) *Telegram {
	return &Telegram{api: api, chatID: cfg.ChatID, adminURL: cfg.AdminURL, logger: logger}
}

// ReportSubmitted announces a new pending report
func (t *Telegram) ReportSubmitted(_ context.Context, report *models.ProblemReport) error {
	preview := report.UserComment
	if utf8.RuneCountInString(preview) > commentPreviewLimit {
		preview = string([]rune(preview)[:commentPreviewLimit]) + "..."
	}
	if preview == "" {
		preview = "(no comment)"
	}

	text := fmt.Sprintf(
		"🔔 New problem report\n\n"+
			"📋 Report: %s\n"+
			"📝 Exercise: %s\n"+
			"⚠️ Type: %s\n\n"+
			"💬 %s",
		report.ID,
		report.ExerciseID,
		models.ProblemTypeNames[report.ProblemType],
		preview,
	)

	msg := tgbotapi.NewMessage(t.chatID, text)
	if t.adminURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Open report", t.adminURL+"/reports/"+report.ID),
			),
		)
	}
	return t.send(msg, zap.String("report_id", report.ID))
}

// CorrectionNotRecorded warns that an exercise was corrected while its
// report is still pending
func (t *Telegram) CorrectionNotRecorded(_ context.Context, reportID string, cause error) error {
	text := fmt.Sprintf(
		"❗ Correction applied but report %s is still pending.\n\n"+
			"Both status updates failed: %v\n\n"+
			"Update the report manually.",
		reportID, cause,
	)
	return t.send(tgbotapi.NewMessage(t.chatID, text), zap.String("report_id", reportID))
}

func (t *Telegram) send(msg tgbotapi.MessageConfig, fields ...zap.Field) error {
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send Telegram notification",
			append(fields, zap.Int64("chat_id", t.chatID), zap.Error(err))...)
		return fmt.Errorf("failed to send notification: %w", err)
	}
	t.logger.Debug("Telegram notification sent", fields...)
	return nil
}
