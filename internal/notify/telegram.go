// Package notify pushes run summaries to operators. Telegram is the only
// channel; the notifier is optional and a nil *TelegramNotifier is safe
// to call, so callers can wire it without checking configuration first.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"feedstash/internal/config"
	"feedstash/internal/models"
	"feedstash/internal/observability"
)

// TelegramNotifier posts a run summary message to a single chat.
type TelegramNotifier struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegramNotifier builds a notifier from config. It returns nil when
// the bot token or chat id is missing, which disables notifications.
// Extra options are handed to the telego client.
func NewTelegramNotifier(cfg *config.Config, opts ...telego.BotOption) (*TelegramNotifier, error) {
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == 0 {
		return nil, nil
	}
	bot, err := telego.NewBot(cfg.TelegramBotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: cfg.TelegramChatID}, nil
}

// NotifyRunFinished sends the settled ledger tallies to the configured
// chat. Delivery is best effort: a send failure is logged and never
// bubbles back into the run that triggered it.
func (t *TelegramNotifier) NotifyRunFinished(ctx context.Context, session *models.DownloadSession) {
	if t == nil || session == nil {
		return
	}
	params := &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: t.chatID},
		Text:      FormatRunSummary(session),
		ParseMode: "Markdown",
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		observability.LogAsyncOperationError(ctx, "notify.run_finished", err, map[string]interface{}{
			"session_id": session.ID,
			"chat_id":    t.chatID,
		})
	}
}

// FormatRunSummary renders a session as the Markdown message body sent to
// the chat.
func FormatRunSummary(session *models.DownloadSession) string {
	name := session.Name
	if name == "" {
		name = session.RunID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 *Run finished*: %s\n", name)
	fmt.Fprintf(&b, "⏱ *Duration*: %s\n", session.Duration().Round(time.Second))
	fmt.Fprintf(&b, "🔍 *Sources scanned*: %d\n", session.SourcesScanned)
	fmt.Fprintf(&b, "🆕 *Posts discovered*: %d\n", session.PostsDiscovered)
	fmt.Fprintf(&b, "✅ *Extracted*: %d · ❌ *Failed*: %d\n", session.PostsExtracted, session.PostsFailed)
	fmt.Fprintf(&b, "💾 *Downloaded*: %d of %d queued", session.ContentDownloaded, session.ContentQueued)
	if session.ContentFailed > 0 {
		fmt.Fprintf(&b, " (%d failed)", session.ContentFailed)
	}
	if session.CommentsHarvested > 0 {
		fmt.Fprintf(&b, "\n💬 *Comments*: %d", session.CommentsHarvested)
	}
	return b.String()
}
