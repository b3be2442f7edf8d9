package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"integration-report-bot/internal/config"
	"integration-report-bot/internal/messenger"
)

// NewAPI connects to the Bot API and verifies the token
func NewAPI(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	api.Debug = cfg.Debug
	return api, nil
}

// Sender delivers messages through the Bot API
type Sender struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewSender creates a Messenger backed by api
func NewSender(api *tgbotapi.BotAPI, logger *slog.Logger) *Sender {
	return &Sender{
		api:    api,
		logger: logger.With("component", "sender"),
	}
}

// SendText sends a text message
func (s *Sender) SendText(ctx context.Context, chatID int64, text string, mode messenger.ParseMode) messenger.Outcome {
	if err := ctx.Err(); err != nil {
		return messenger.Transient(err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = string(mode)

	_, err := s.api.Send(msg)
	return s.outcome(chatID, err)
}

// SendDocument uploads a file from disk
func (s *Sender) SendDocument(ctx context.Context, chatID int64, doc messenger.Document, caption string) messenger.Outcome {
	if err := ctx.Err(); err != nil {
		return messenger.Transient(err)
	}

	f, err := os.Open(doc.Path)
	if err != nil {
		return messenger.Transient(fmt.Errorf("open document: %w", err))
	}
	defer f.Close()

	name := doc.Name
	if name == "" {
		name = doc.Path
	}

	msg := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: f})
	msg.Caption = caption

	_, err = s.api.Send(msg)
	return s.outcome(chatID, err)
}

// outcome classifies a Bot API error. 403 means the bot was blocked or
// removed from the chat and will not recover by retrying.
func (s *Sender) outcome(chatID int64, err error) messenger.Outcome {
	if err == nil {
		return messenger.Delivery()
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		s.logger.Warn("chat blocked the bot", "chat_id", chatID, "error", err)
		return messenger.Blocked(err)
	}

	s.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	return messenger.Transient(err)
}

// Bot runs the long-polling loop
type Bot struct {
	api        *tgbotapi.BotAPI
	dispatcher *Dispatcher
	cfg        config.TelegramConfig
	logger     *slog.Logger
}

// NewBot creates a bot over a connected API client
func NewBot(api *tgbotapi.BotAPI, dispatcher *Dispatcher, cfg config.TelegramConfig, logger *slog.Logger) *Bot {
	return &Bot{
		api:        api,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "bot"),
	}
}

// Run polls for updates and blocks until ctx is cancelled. Updates are
// dispatched one at a time.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollingTimeout

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopping bot")
			b.api.StopReceivingUpdates()
			return ctx.Err()

		case update, ok := <-updates:
			if !ok {
				return nil
			}

			msg, ok := toInbound(update)
			if !ok {
				continue
			}

			reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
			result := b.dispatcher.Dispatch(reqCtx, msg)
			cancel()

			b.logger.Debug("update processed", "update_id", update.UpdateID, "result", result.String())
		}
	}
}

// Username returns the bot's Telegram username
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// toInbound extracts a text message from an update
func toInbound(update tgbotapi.Update) (InboundMessage, bool) {
	m := update.Message
	if m == nil || m.Chat == nil || m.Text == "" {
		return InboundMessage{}, false
	}

	in := InboundMessage{
		ChatID:    m.Chat.ID,
		ChatTitle: m.Chat.Title,
		Text:      m.Text,
		Timestamp: m.Time(),
		IsGroup:   m.Chat.IsGroup() || m.Chat.IsSuperGroup(),
	}

	if m.From != nil {
		in.SenderID = m.From.ID
		in.SenderName = displayName(m.From)
	}
	return in, true
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return fmt.Sprintf("User_%d", u.ID)
	}
	return name
}

