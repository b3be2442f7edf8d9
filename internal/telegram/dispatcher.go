package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	apperrors "integration-report-bot/internal/errors"
	"integration-report-bot/internal/messenger"
)

const (
	unknownCommandMessage   = "❓ Unknown command. Try /help"
	permissionDeniedMessage = "⛔ This command is available to administrators only."
)

// InboundMessage is a transport-neutral chat message
type InboundMessage struct {
	ChatID     int64
	SenderID   int64
	SenderName string
	ChatTitle  string
	Text       string
	Timestamp  time.Time
	IsGroup    bool
}

// Request is what a handler receives
type Request struct {
	Message InboundMessage
	// Command is the normalized command name, e.g. "/approve"
	Command string
	Args    []string
	IsAdmin bool

	messenger messenger.Messenger
}

// Reply sends plain text to the originating chat
func (r *Request) Reply(ctx context.Context, text string) messenger.Outcome {
	return r.send(ctx, text, messenger.PlainText)
}

// ReplyHTML sends HTML text to the originating chat
func (r *Request) ReplyHTML(ctx context.Context, text string) messenger.Outcome {
	return r.send(ctx, text, messenger.HTML)
}

// ReplyDocument sends a file to the originating chat
func (r *Request) ReplyDocument(ctx context.Context, doc messenger.Document, caption string) messenger.Outcome {
	return r.messenger.SendDocument(ctx, r.Message.ChatID, doc, caption)
}

func (r *Request) send(ctx context.Context, text string, mode messenger.ParseMode) messenger.Outcome {
	return r.messenger.SendText(ctx, r.Message.ChatID, text, mode)
}

// Result is the dispatch outcome of one message
type Result int

const (
	ResultIgnored Result = iota
	ResultStale
	ResultUnknown
	ResultMaintenance
	ResultUnauthorized
	ResultDenied
	ResultHandled
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultIgnored:
		return "ignored"
	case ResultStale:
		return "stale"
	case ResultUnknown:
		return "unknown"
	case ResultMaintenance:
		return "maintenance"
	case ResultUnauthorized:
		return "unauthorized"
	case ResultDenied:
		return "denied"
	case ResultHandled:
		return "handled"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// BotState reads the global enable flag
type BotState interface {
	IsBotEnabled(ctx context.Context) (bool, error)
}

// DispatcherConfig holds the fixed texts and thresholds
type DispatcherConfig struct {
	MaintenanceMessage  string
	UnauthorizedMessage string
	StaleAfter          time.Duration
	// BotUsername strips "/cmd@BotUsername" mentions. Commands addressed to
	// another bot are ignored.
	BotUsername string
}

// Dispatcher routes commands through the gating pipeline
type Dispatcher struct {
	registry  *Registry
	access    *AccessControl
	state     BotState
	messenger messenger.Messenger
	cfg       DispatcherConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher
func NewDispatcher(
	registry *Registry,
	access *AccessControl,
	state BotState,
	m messenger.Messenger,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Dispatcher{
		registry:  registry,
		access:    access,
		state:     state,
		messenger: m,
		cfg:       cfg,
		logger:    logger.With("component", "dispatcher"),
		now:       time.Now,
	}
}

// Dispatch runs the gating pipeline for one message: staleness, lookup,
// enabled gate, privilege gate, then the handler. It never panics and
// sends at most one gating reply.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InboundMessage) Result {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return ResultIgnored
	}

	if age := d.now().Sub(msg.Timestamp); age > d.cfg.StaleAfter {
		d.logger.Debug("ignoring stale message", "chat_id", msg.ChatID, "age", age)
		return ResultStale
	}

	fields := strings.Fields(text)
	token, forUs := d.commandToken(fields[0])
	if !forUs {
		return ResultIgnored
	}

	logger := d.logger.With("command", token, "user_id", msg.SenderID, "chat_id", msg.ChatID)

	cmd, ok := d.registry.Lookup(token)
	if !ok {
		logger.Warn("unknown command")
		d.reply(ctx, msg.ChatID, unknownCommandMessage)
		return ResultUnknown
	}

	isAdmin := d.access.IsAdmin(msg.SenderID)

	if !isAdmin {
		enabled, err := d.state.IsBotEnabled(ctx)
		if err != nil {
			logger.Error("failed to read bot state", "error", err)
			d.reply(ctx, msg.ChatID, apperrors.GenericUserMessage)
			return ResultFailed
		}
		if !enabled {
			logger.Info("bot disabled, command rejected")
			d.reply(ctx, msg.ChatID, d.cfg.MaintenanceMessage)
			return ResultMaintenance
		}
	}

	switch cmd.Tier {
	case TierAuthorized:
		if !isAdmin {
			ok, err := d.access.IsAuthorized(ctx, msg.SenderID)
			if err != nil {
				logger.Error("failed to check authorization", "error", err)
				d.reply(ctx, msg.ChatID, apperrors.GenericUserMessage)
				return ResultFailed
			}
			if !ok {
				logger.Info("unauthorized command attempt", "username", msg.SenderName)
				d.reply(ctx, msg.ChatID, d.cfg.UnauthorizedMessage)
				return ResultUnauthorized
			}
		}
	case TierAdmin:
		if !isAdmin {
			logger.Warn("admin command attempt by non-admin", "username", msg.SenderName)
			d.reply(ctx, msg.ChatID, permissionDeniedMessage)
			return ResultDenied
		}
	}

	req := &Request{
		Message:   msg,
		Command:   cmd.Name,
		Args:      fields[1:],
		IsAdmin:   isAdmin,
		messenger: d.messenger,
	}

	logger.Info("handling command", "args", len(req.Args))

	if err := d.invoke(ctx, cmd, req); err != nil {
		var userErr *apperrors.UserError
		switch {
		case apperrors.IsRetryable(err):
			logger.Warn("command failed, retryable", "error", err)
		case errors.As(err, &userErr):
			logger.Warn("command rejected", "error", err)
		default:
			logger.Error("command failed", "error", err, "username", msg.SenderName)
		}
		d.reply(ctx, msg.ChatID, apperrors.GetUserMessage(err))
		return ResultFailed
	}
	return ResultHandled
}

// invoke runs the handler, converting a panic into an error
func (d *Dispatcher) invoke(ctx context.Context, cmd *Command, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "command", cmd.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler %s panicked: %v", cmd.Name, r)
		}
	}()
	return cmd.Handle(ctx, req)
}

// commandToken lowercases the token and strips a "@botname" suffix.
// Returns false when the command mentions a different bot.
func (d *Dispatcher) commandToken(raw string) (string, bool) {
	token := strings.ToLower(raw)
	at := strings.IndexByte(token, '@')
	if at < 0 {
		return token, true
	}

	mention := token[at+1:]
	if d.cfg.BotUsername != "" && !strings.EqualFold(mention, d.cfg.BotUsername) {
		return "", false
	}
	return token[:at], true
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if out := d.messenger.SendText(ctx, chatID, text, messenger.PlainText); !out.OK() {
		d.logger.Warn("failed to send reply", "chat_id", chatID, "outcome", out.Kind.String(), "error", out.Err)
	}
}
