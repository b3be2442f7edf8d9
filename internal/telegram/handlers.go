package telegram

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"integration-report-bot/internal/authz"
	apperrors "integration-report-bot/internal/errors"
	"integration-report-bot/internal/integration"
	"integration-report-bot/internal/jobs"
	"integration-report-bot/internal/messenger"
	"integration-report-bot/internal/report"
	"integration-report-bot/internal/scheduler"
	"integration-report-bot/internal/subscribers"
)

const (
	timeFormat           = "02.01.2006 15:04"
	minProcedureIDLength = 10
	buildingReportText   = "⏳ Building report..."
)

// BotSwitch reads and writes the global enable flag
type BotSwitch interface {
	BotState
	SetBotEnabled(ctx context.Context, enabled bool) error
}

// Subscriptions manages broadcast recipients
type Subscriptions interface {
	Subscribe(ctx context.Context, sub subscribers.Subscriber) (bool, error)
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
	Get(ctx context.Context, chatID int64) (*subscribers.Subscriber, error)
}

// JobControl is the scheduler surface exposed to admins
type JobControl interface {
	Names() []string
	Resolve(name string) (string, bool)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	Status(ctx context.Context) ([]scheduler.Status, error)
}

// ReportBuilder builds the on-demand error-integration report
type ReportBuilder interface {
	Build(ctx context.Context) (*jobs.BuiltReport, error)
}

// HandlerDeps are the collaborators of the command handlers
type HandlerDeps struct {
	Access        *AccessControl
	Authz         authz.Store
	BotState      BotSwitch
	Subscriptions Subscriptions
	Jobs          JobControl
	Reports       ReportBuilder
	Procedures    integration.ProcedureSource
	Renderer      *report.Renderer
	Messenger     messenger.Messenger
	TempDir       string
	Logger        *slog.Logger
}

// Handler implements the chat commands
type Handler struct {
	deps     HandlerDeps
	registry *Registry
	logger   *slog.Logger
}

// NewHandler creates the command handlers
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		deps:   deps,
		logger: deps.Logger.With("component", "handlers"),
	}
}

// RegisterAll adds every command to r
func (h *Handler) RegisterAll(r *Registry) error {
	h.registry = r

	commands := []Command{
		{Name: "/start", Tier: TierPublic, Description: "start working with the bot", PrivateOnly: true, Handle: h.handleStart},
		{Name: "/help", Tier: TierPublic, Description: "show available commands", Handle: h.handleHelp},
		{Name: "/requestaccess", Tier: TierPublic, Description: "request access to the bot", PrivateOnly: true, Handle: h.handleRequestAccess},
		{Name: "/groupid", Tier: TierPublic, Description: "show this chat's ID", Handle: h.handleGroupID},

		{Name: "/subscribe", Tier: TierAuthorized, Description: "subscribe to reports", Handle: h.handleSubscribe},
		{Name: "/unsubscribe", Tier: TierAuthorized, Description: "unsubscribe from reports", Handle: h.handleUnsubscribe},
		{Name: "/procedure", Tier: TierAuthorized, Args: "<procedure_id>", Description: "documents of a procedure", Handle: h.handleProcedure},
		{Name: "/geterrorintegration", Tier: TierAuthorized, Description: "current integration errors", Handle: h.handleErrorIntegration},

		{Name: "/approve", Tier: TierAdmin, Args: "<request_id>", Description: "approve an access request", Handle: h.handleApprove},
		{Name: "/listrequests", Tier: TierAdmin, Description: "pending access requests", Handle: h.handleListRequests},
		{Name: "/listusers", Tier: TierAdmin, Description: "authorized users", Handle: h.handleListUsers},
		{Name: "/revoke", Tier: TierAdmin, Args: "<user_id>", Description: "revoke a user's access", Handle: h.handleRevoke},
		{Name: "/enable", Tier: TierAdmin, Description: "enable the bot for users", Handle: h.handleEnable},
		{Name: "/disable", Tier: TierAdmin, Description: "put the bot into maintenance", Handle: h.handleDisable},
		{Name: "/enablejob", Tier: TierAdmin, Args: "<job_name>", Description: "enable a scheduled job", Handle: h.handleEnableJob},
		{Name: "/disablejob", Tier: TierAdmin, Args: "<job_name>", Description: "disable a scheduled job", Handle: h.handleDisableJob},
		{Name: "/jobsstatus", Tier: TierAdmin, Description: "scheduled jobs status", Handle: h.handleJobsStatus},
	}

	for _, cmd := range commands {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleStart(ctx context.Context, req *Request) error {
	tier, err := h.deps.Access.TierOf(ctx, req.Message.SenderID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👋 Hello, %s!\n\n", req.Message.SenderName)
	sb.WriteString("🤖 This bot reports integration errors of the document exchange.\n\n")

	switch tier {
	case TierAdmin:
		sb.WriteString("👑 You are an administrator.")
	case TierAuthorized:
		sb.WriteString("✅ You are authorized.")
	default:
		sb.WriteString("❌ You are not authorized.\n\n📝 To request access use /requestaccess")
	}

	req.Reply(ctx, sb.String())
	return nil
}

func (h *Handler) handleHelp(ctx context.Context, req *Request) error {
	var sb strings.Builder
	sb.WriteString("Available commands:\n")

	var admin []*Command
	for _, cmd := range h.registry.Commands() {
		if req.Message.IsGroup && cmd.PrivateOnly {
			continue
		}
		if cmd.Tier == TierAdmin {
			admin = append(admin, cmd)
			continue
		}
		fmt.Fprintf(&sb, "%s - %s\n", cmd.Usage(), cmd.Description)
	}

	if req.IsAdmin && len(admin) > 0 {
		sb.WriteString("\nAdministration:\n")
		for _, cmd := range admin {
			fmt.Fprintf(&sb, "%s - %s\n", cmd.Usage(), cmd.Description)
		}
	}

	req.Reply(ctx, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (h *Handler) handleRequestAccess(ctx context.Context, req *Request) error {
	msg := req.Message

	ok, err := h.deps.Access.IsAuthorized(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	if ok {
		req.Reply(ctx, "✅ You are already authorized!")
		return nil
	}

	pending, err := h.deps.Authz.PendingRequestForUser(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("find pending request: %w", err)
	}
	if pending != nil {
		req.Reply(ctx, fmt.Sprintf("⏳ Your request #%d is already pending. Please wait for an administrator.", pending.ID))
		return nil
	}

	created, err := h.deps.Authz.CreateRequest(ctx, authz.AuthorizationRequest{
		UserID:         msg.SenderID,
		UserName:       msg.SenderName,
		ChatID:         msg.ChatID,
		RequestMessage: "Access request from " + msg.SenderName,
	})
	if err != nil {
		return fmt.Errorf("create access request: %w", err)
	}

	h.logger.Info("access requested", "request_id", created.ID, "user_id", msg.SenderID)
	req.Reply(ctx, "📥 Your access request has been sent to the administrators. Please wait for approval.")

	notification := fmt.Sprintf(
		"📥 New access request #%d\n\nUser: %s\nID: %d\nChat ID: %d\n\nApprove: /approve %d\nAll requests: /listrequests",
		created.ID, created.UserName, created.UserID, created.ChatID, created.ID,
	)
	for _, adminID := range h.deps.Access.AdminIDs() {
		if out := h.deps.Messenger.SendText(ctx, adminID, notification, messenger.PlainText); !out.OK() {
			h.logger.Warn("failed to notify admin", "admin_id", adminID, "request_id", created.ID, "error", out.Err)
		}
	}
	return nil
}

func (h *Handler) handleGroupID(ctx context.Context, req *Request) error {
	req.ReplyHTML(ctx, fmt.Sprintf("🆔 Chat ID: <code>%d</code>", req.Message.ChatID))
	return nil
}

func (h *Handler) handleSubscribe(ctx context.Context, req *Request) error {
	msg := req.Message

	name := msg.ChatTitle
	if name == "" {
		name = msg.SenderName
	}

	added, err := h.deps.Subscriptions.Subscribe(ctx, subscribers.Subscriber{
		ChatID:   msg.ChatID,
		ChatName: name,
		IsGroup:  msg.IsGroup,
	})
	if err != nil {
		return fmt.Errorf("subscribe chat %d: %w", msg.ChatID, err)
	}

	switch {
	case !added:
		req.Reply(ctx, h.alreadySubscribedText(ctx, msg.ChatID))
	case msg.IsGroup:
		req.Reply(ctx, "✅ The group is subscribed to integration reports.")
	default:
		req.Reply(ctx, "✅ You are subscribed to integration reports.")
	}
	return nil
}

func (h *Handler) alreadySubscribedText(ctx context.Context, chatID int64) string {
	text := "ℹ️ This chat is already subscribed."

	sub, err := h.deps.Subscriptions.Get(ctx, chatID)
	if err != nil {
		h.logger.Warn("failed to read subscriber", "chat_id", chatID, "error", err)
		return text
	}
	if sub == nil || sub.SubscribedAt.IsZero() {
		return text
	}
	return fmt.Sprintf("ℹ️ This chat is already subscribed since %s.", sub.SubscribedAt.Local().Format(timeFormat))
}

func (h *Handler) handleUnsubscribe(ctx context.Context, req *Request) error {
	removed, err := h.deps.Subscriptions.Unsubscribe(ctx, req.Message.ChatID)
	if err != nil {
		return fmt.Errorf("unsubscribe chat %d: %w", req.Message.ChatID, err)
	}
	if !removed {
		return apperrors.ErrNotSubscribed
	}

	req.Reply(ctx, "👋 Unsubscribed from integration reports.")
	return nil
}

// validProcedureID accepts only digit strings of at least minProcedureIDLength
func validProcedureID(id string) bool {
	if len(id) < minProcedureIDLength {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (h *Handler) handleProcedure(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		req.Reply(ctx, "Usage: /procedure <procedure_id>\nExample: /procedure 0123456789012")
		return nil
	}

	id := req.Args[0]
	if !validProcedureID(id) {
		req.Reply(ctx, fmt.Sprintf("❌ Invalid procedure number. It must contain only digits and be at least %d characters long.", minProcedureIDLength))
		return nil
	}

	req.Reply(ctx, buildingReportText)

	docs, err := h.deps.Procedures.ProcedureDocuments(ctx, id)
	if err != nil {
		return fmt.Errorf("procedure %s: %w", id, err)
	}
	if len(docs) == 0 {
		req.Reply(ctx, fmt.Sprintf("🔍 No documents found for procedure %s.", id))
		return nil
	}

	summary, err := h.deps.Renderer.ProcedureSummary(id, docs)
	if err != nil {
		return fmt.Errorf("render procedure %s summary: %w", id, err)
	}
	for _, part := range report.SplitMessage(summary, report.MaxMessageLength) {
		if out := req.Reply(ctx, part); !out.OK() {
			return fmt.Errorf("send procedure %s summary: %w", id, out.Err)
		}
	}

	path, err := report.WriteTemp(h.deps.TempDir, "procedure_"+id, func(w io.Writer) error {
		return h.deps.Renderer.Procedure(w, id, docs)
	})
	if err != nil {
		return fmt.Errorf("write procedure %s report: %w", id, err)
	}
	defer h.removeTemp(path)

	doc := messenger.Document{Path: path, Name: "procedure_" + id + ".html"}
	if out := req.ReplyDocument(ctx, doc, fmt.Sprintf("📄 Procedure %s: %d document(s)", id, len(docs))); !out.OK() {
		h.logger.Warn("failed to send procedure document", "procedure_id", id, "error", out.Err)
	}
	return nil
}

func (h *Handler) handleErrorIntegration(ctx context.Context, req *Request) error {
	req.Reply(ctx, buildingReportText)

	built, err := h.deps.Reports.Build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Close(); err != nil {
			h.logger.Warn("failed to remove report file", "path", built.Path, "error", err)
		}
	}()

	if built.Report.Empty() {
		req.Reply(ctx, h.deps.Renderer.NoErrorsText(built.Report))
		return nil
	}

	if out := req.ReplyHTML(ctx, h.deps.Renderer.ReportSummary(built.Report)); !out.OK() {
		return fmt.Errorf("send report summary: %w", out.Err)
	}
	if out := req.ReplyDocument(ctx, built.Document(), h.deps.Renderer.ReportCaption(built.Report)); !out.OK() {
		h.logger.Warn("failed to send report document", "chat_id", req.Message.ChatID, "error", out.Err)
	}
	return nil
}

// parseID parses the single numeric argument of admin commands
func parseID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (h *Handler) handleApprove(ctx context.Context, req *Request) error {
	requestID, ok := parseID(req.Args)
	if !ok {
		req.Reply(ctx, "Usage: /approve <request_id>\nSee /listrequests for pending requests.")
		return nil
	}

	existing, err := h.deps.Authz.GetRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("approve request %d: %w", requestID, err)
	}
	if existing == nil {
		return fmt.Errorf("approve request %d: %w", requestID, apperrors.ErrRequestNotFound)
	}
	if !existing.Pending() {
		req.Reply(ctx, processedRequestText(existing))
		return nil
	}

	// Approve re-checks the request inside its transaction
	approved, err := h.deps.Authz.Approve(ctx, requestID, req.Message.SenderID)
	if err != nil {
		return fmt.Errorf("approve request %d: %w", requestID, err)
	}

	h.logger.Info("access approved",
		"request_id", approved.ID,
		"user_id", approved.UserID,
		"admin_id", req.Message.SenderID,
	)
	req.Reply(ctx, fmt.Sprintf("✅ Request #%d approved. %s (ID %d) now has access.", approved.ID, approved.UserName, approved.UserID))

	notice := "✅ Your access request has been approved! Use /help to see available commands."
	if out := h.deps.Messenger.SendText(ctx, approved.ChatID, notice, messenger.PlainText); !out.OK() {
		h.logger.Warn("failed to notify approved user", "user_id", approved.UserID, "chat_id", approved.ChatID, "error", out.Err)
	}
	return nil
}

func processedRequestText(r *authz.AuthorizationRequest) string {
	verdict := "rejected"
	if r.IsApproved {
		verdict = "approved"
	}

	text := fmt.Sprintf("ℹ️ Request #%d from %s (ID %d) was already %s", r.ID, r.UserName, r.UserID, verdict)
	if r.ProcessedBy != nil {
		text += fmt.Sprintf(" by %d", *r.ProcessedBy)
	}
	if r.ProcessedAt != nil {
		text += " on " + r.ProcessedAt.Local().Format(timeFormat)
	}
	return text + "."
}

func (h *Handler) handleListRequests(ctx context.Context, req *Request) error {
	pending, err := h.deps.Authz.PendingRequests(ctx)
	if err != nil {
		return fmt.Errorf("list pending requests: %w", err)
	}
	if len(pending) == 0 {
		req.Reply(ctx, "📭 No pending access requests.")
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>Pending access requests: %d</b>\n\n", len(pending))
	for _, r := range pending {
		fmt.Fprintf(&sb, "#%d <b>%s</b> (ID <code>%d</code>)\n", r.ID, html.EscapeString(r.UserName), r.UserID)
		fmt.Fprintf(&sb, "Requested: %s\n", r.RequestedAt.Local().Format(timeFormat))
		fmt.Fprintf(&sb, "/approve %d\n\n", r.ID)
	}

	return h.replyLong(ctx, req, sb.String(), messenger.HTML)
}

func (h *Handler) handleListUsers(ctx context.Context, req *Request) error {
	users, err := h.deps.Authz.AuthorizedUsers(ctx)
	if err != nil {
		return fmt.Errorf("list authorized users: %w", err)
	}
	if len(users) == 0 {
		req.Reply(ctx, "👥 No authorized users.")
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 <b>Authorized users: %d</b>\n\n", len(users))
	for _, u := range users {
		fmt.Fprintf(&sb, "• <b>%s</b> (ID <code>%d</code>), since %s\n",
			html.EscapeString(u.UserName), u.UserID, u.AuthorizedAt.Local().Format(timeFormat))
	}

	return h.replyLong(ctx, req, sb.String(), messenger.HTML)
}

func (h *Handler) handleRevoke(ctx context.Context, req *Request) error {
	userID, ok := parseID(req.Args)
	if !ok {
		req.Reply(ctx, "Usage: /revoke <user_id>\nSee /listusers for authorized users.")
		return nil
	}

	changed, err := h.deps.Authz.Revoke(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke user %d: %w", userID, err)
	}
	if !changed {
		return fmt.Errorf("revoke user %d: %w", userID, apperrors.ErrUserNotAuthorized)
	}

	h.logger.Info("access revoked", "user_id", userID, "admin_id", req.Message.SenderID)
	req.Reply(ctx, fmt.Sprintf("🚫 Access revoked for user %d.", userID))
	return nil
}

func (h *Handler) handleEnable(ctx context.Context, req *Request) error {
	return h.setBotEnabled(ctx, req, true)
}

func (h *Handler) handleDisable(ctx context.Context, req *Request) error {
	return h.setBotEnabled(ctx, req, false)
}

func (h *Handler) setBotEnabled(ctx context.Context, req *Request, enabled bool) error {
	if err := h.deps.BotState.SetBotEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("set bot enabled: %w", err)
	}

	h.logger.Info("bot state changed", "enabled", enabled, "admin_id", req.Message.SenderID)
	if enabled {
		req.Reply(ctx, "✅ Bot enabled.")
	} else {
		req.Reply(ctx, "⏸ Bot disabled. Only administrators can use commands.")
	}
	return nil
}

func (h *Handler) handleEnableJob(ctx context.Context, req *Request) error {
	return h.setJobEnabled(ctx, req, true)
}

func (h *Handler) handleDisableJob(ctx context.Context, req *Request) error {
	return h.setJobEnabled(ctx, req, false)
}

func (h *Handler) setJobEnabled(ctx context.Context, req *Request, enabled bool) error {
	names := strings.Join(h.deps.Jobs.Names(), ", ")

	if len(req.Args) == 0 {
		req.Reply(ctx, fmt.Sprintf("Usage: %s <job_name>\nAvailable jobs: %s", req.Command, names))
		return nil
	}

	name, ok := h.deps.Jobs.Resolve(req.Args[0])
	if !ok {
		req.Reply(ctx, fmt.Sprintf("❌ Unknown job %q.\nAvailable jobs: %s", req.Args[0], names))
		return nil
	}

	if err := h.deps.Jobs.SetEnabled(ctx, name, enabled); err != nil {
		return err
	}

	if enabled {
		req.Reply(ctx, fmt.Sprintf("▶️ Job %s enabled.", name))
	} else {
		req.Reply(ctx, fmt.Sprintf("⏸ Job %s disabled.", name))
	}
	return nil
}

func (h *Handler) handleJobsStatus(ctx context.Context, req *Request) error {
	statuses, err := h.deps.Jobs.Status(ctx)
	if err != nil {
		return fmt.Errorf("jobs status: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("🗓 <b>Scheduled jobs</b>\n\n")
	for _, st := range statuses {
		state := "✅ enabled"
		if !st.Enabled {
			state = "⏸ disabled"
		}
		if st.Running {
			state += ", 🔄 running since " + st.RunningSince.Local().Format(timeFormat)
		}

		fmt.Fprintf(&sb, "<b>%s</b>: %s\n", html.EscapeString(st.Name), state)
		fmt.Fprintf(&sb, "Schedule: <code>%s</code>\n", html.EscapeString(st.Schedule))
		if !st.FlagChanged.IsZero() {
			fmt.Fprintf(&sb, "Toggled: %s\n", st.FlagChanged.Local().Format(timeFormat))
		}
		if !st.Next.IsZero() {
			fmt.Fprintf(&sb, "Next run: %s\n", st.Next.Local().Format(timeFormat))
		}
		if !st.LastRun.IsZero() {
			fmt.Fprintf(&sb, "Last run: %s (%s)\n", st.LastRun.Local().Format(timeFormat), st.LastDuration.Round(time.Millisecond))
		}
		if st.LastError != "" {
			fmt.Fprintf(&sb, "Last error: %s\n", html.EscapeString(st.LastError))
		}
		sb.WriteString("\n")
	}

	return h.replyLong(ctx, req, sb.String(), messenger.HTML)
}

// replyLong splits text at line boundaries to fit Telegram's message limit
func (h *Handler) replyLong(ctx context.Context, req *Request, text string, mode messenger.ParseMode) error {
	for _, part := range report.SplitMessage(strings.TrimRight(text, "\n"), report.MaxMessageLength) {
		if out := req.send(ctx, part, mode); !out.OK() {
			return fmt.Errorf("send reply: %w", out.Err)
		}
	}
	return nil
}

func (h *Handler) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("failed to remove temp file", "path", path, "error", err)
	}
}
