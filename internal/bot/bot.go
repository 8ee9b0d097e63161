// Package bot is the Telegram façade: users request and manage their own
// access, operators triage requests and inspect the server, all through
// chat commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/logging"
	"github.com/dmitrijs2005/vpnaccess/internal/server/config"
	"github.com/dmitrijs2005/vpnaccess/internal/server/services"
)

const qrImageSize = 512

// Bot runs the Telegram update loop.
type Bot struct {
	api    *tgbotapi.BotAPI
	access *services.AccessService
	config *config.Config
	logger logging.Logger
}

func New(cfg *config.Config, access *services.AccessService, logger logging.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}

	return &Bot{
		api:    api,
		access: access,
		config: cfg,
		logger: logger.With("component", "bot"),
	}, nil
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info(ctx, "bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	telegramID := msg.From.ID

	var reply string
	switch msg.Command() {
	case "start":
		reply = b.handleStart(ctx, msg)
	case "request":
		reply = b.handleRequest(ctx, telegramID)
	case "link":
		reply = b.handleLink(ctx, telegramID)
	case "qr":
		b.handleQR(ctx, msg.Chat.ID, telegramID)
		return
	case "stats":
		reply = b.handleStats(ctx, telegramID)
	case "switch":
		reply = b.handleSwitch(ctx, telegramID, msg.CommandArguments())
	case "sni":
		reply = b.handleSNI(ctx, telegramID, msg.CommandArguments())
	case "revoke":
		reply = b.handleRevoke(ctx, telegramID)
	case "pending":
		reply = b.adminOnly(telegramID, func() string { return b.handlePending(ctx) })
	case "approve":
		reply = b.adminOnly(telegramID, func() string { return b.handleApprove(ctx, msg.CommandArguments()) })
	case "reject":
		reply = b.adminOnly(telegramID, func() string { return b.handleReject(ctx, msg.CommandArguments()) })
	case "users":
		reply = b.adminOnly(telegramID, func() string { return b.handleUsers(ctx) })
	case "status":
		reply = b.adminOnly(telegramID, func() string { return b.handleStatus(ctx) })
	case "online":
		reply = b.adminOnly(telegramID, func() string { return b.handleOnline(ctx) })
	default:
		reply = "Unknown command. Send /start for the command list."
	}

	if reply != "" {
		b.send(ctx, msg.Chat.ID, reply)
	}
}

func (b *Bot) adminOnly(telegramID int64, fn func() string) string {
	if !b.config.IsAdmin(telegramID) {
		return "This command is for operators only."
	}
	return fn()
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(out); err != nil {
		b.logger.Warn(ctx, "failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) string {
	fullName := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	user, err := b.access.RegisterUser(ctx, msg.From.ID, fullName, msg.From.UserName)
	if err != nil {
		b.logger.Error(ctx, "register failed", "telegram_id", msg.From.ID, "error", err)
		return "Something went wrong, please try again later."
	}

	text := helpText(b.config.Protocols)
	if user.IsAdmin {
		text += adminHelpText
	}
	return text
}

func (b *Bot) handleRequest(ctx context.Context, telegramID int64) string {
	request, err := b.access.RequestAccess(ctx, telegramID)
	if err != nil {
		if errors.Is(err, common.ErrConflictActiveOrPending) {
			return "You already have access or a pending request."
		}
		b.logger.Error(ctx, "request failed", "telegram_id", telegramID, "error", err)
		return "Something went wrong, please try again later."
	}

	b.notifyAdmins(ctx, fmt.Sprintf("New access request #%d. Use /approve %d <protocol> or /reject %d.",
		request.ID, request.ID, request.ID))
	return fmt.Sprintf("Request #%d submitted. An operator will review it shortly.", request.ID)
}

func (b *Bot) notifyAdmins(ctx context.Context, text string) {
	for _, adminID := range b.config.AdminIDs {
		b.send(ctx, adminID, text)
	}
}

func (b *Bot) handleLink(ctx context.Context, telegramID int64) string {
	link, err := b.access.GetActiveLink(ctx, telegramID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "You have no active access. Send /request first."
		}
		b.logger.Error(ctx, "link failed", "telegram_id", telegramID, "error", err)
		return "Something went wrong, please try again later."
	}
	if link == "" {
		return "Your protocol has no shareable link."
	}
	return link
}

func (b *Bot) handleQR(ctx context.Context, chatID, telegramID int64) {
	link, err := b.access.GetActiveLink(ctx, telegramID)
	if err != nil || link == "" {
		b.send(ctx, chatID, "You have no active access. Send /request first.")
		return
	}

	png, err := qrcode.Encode(link, qrcode.Medium, qrImageSize)
	if err != nil {
		b.logger.Error(ctx, "qr encode failed", "telegram_id", telegramID, "error", err)
		b.send(ctx, chatID, "Something went wrong, please try again later.")
		return
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "connection.png", Bytes: png})
	if _, err := b.api.Send(photo); err != nil {
		b.logger.Warn(ctx, "failed to send qr", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleStats(ctx context.Context, telegramID int64) string {
	traffic, err := b.access.GetStats(ctx, telegramID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "You have no active access. Send /request first."
		}
		b.logger.Error(ctx, "stats failed", "telegram_id", telegramID, "error", err)
		return "Something went wrong, please try again later."
	}
	return fmt.Sprintf("Upload: %s\nDownload: %s",
		formatBytes(traffic.UploadBytes), formatBytes(traffic.DownloadBytes))
}

func (b *Bot) handleSwitch(ctx context.Context, telegramID int64, args string) string {
	protocol := strings.TrimSpace(args)
	if protocol == "" {
		return "Usage: /switch <protocol>\n" + protocolList(b.config.Protocols)
	}

	link, err := b.access.SwitchProtocol(ctx, telegramID, protocol)
	if err != nil {
		if errors.Is(err, common.ErrProtocolNotConfigured) {
			return "Unknown protocol.\n" + protocolList(b.config.Protocols)
		}
		b.logger.Error(ctx, "switch failed", "telegram_id", telegramID, "error", err)
		return "Something went wrong, please try again later."
	}
	if link == "" {
		return "Protocol switched. Send /link to fetch your new connection string."
	}
	return "Protocol switched. Your new connection string:\n" + link
}

func (b *Bot) handleSNI(ctx context.Context, telegramID int64, args string) string {
	sni := strings.TrimSpace(args)
	if sni == "" {
		options, err := b.access.ListSNIOptions(ctx, telegramID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return "You have no active access. Send /request first."
			}
			return "Something went wrong, please try again later."
		}
		if len(options) == 0 {
			return "Your protocol has no selectable SNI."
		}
		return "Available SNI values:\n" + strings.Join(options, "\n") + "\n\nUse /sni <value> to select one."
	}

	ok, err := b.access.UpdateSNI(ctx, telegramID, sni)
	if err != nil {
		b.logger.Error(ctx, "sni update failed", "telegram_id", telegramID, "error", err)
		return "Something went wrong, please try again later."
	}
	if !ok {
		return "That SNI is not available. Send /sni to list valid values."
	}
	return "SNI updated. Send /link to fetch the refreshed connection string."
}

func (b *Bot) handleRevoke(ctx context.Context, telegramID int64) string {
	if err := b.access.RevokeAccess(ctx, telegramID); err != nil {
		b.logger.Error(ctx, "revoke failed", "telegram_id", telegramID, "error", err)
		return "Something went wrong, please try again later."
	}
	return "Your access has been revoked."
}

func (b *Bot) handlePending(ctx context.Context) string {
	requests, err := b.access.ListPendingRequests(ctx)
	if err != nil {
		return "Something went wrong, please try again later."
	}
	if len(requests) == 0 {
		return "No pending requests."
	}

	var sb strings.Builder
	sb.WriteString("Pending requests:\n")
	for _, req := range requests {
		fmt.Fprintf(&sb, "#%d user %d since %s\n", req.ID, req.UserID, req.CreatedAt.Format("2006-01-02 15:04"))
	}
	return sb.String()
}

func (b *Bot) handleApprove(ctx context.Context, args string) string {
	requestID, protocol, err := parseApproveArgs(args, b.config.Protocols)
	if err != nil {
		return err.Error()
	}

	link, err := b.access.ApproveRequest(ctx, requestID, protocol)
	switch {
	case errors.Is(err, common.ErrAlreadyProcessed):
		return "That request was already processed."
	case errors.Is(err, common.ErrorNotFound):
		return "No such request."
	case err != nil:
		b.logger.Error(ctx, "approve failed", "request_id", requestID, "error", err)
		return "Approval failed, check the panel and try again."
	}

	if link == "" {
		return fmt.Sprintf("Request #%d approved.", requestID)
	}
	return fmt.Sprintf("Request #%d approved. Connection string:\n%s", requestID, link)
}

func (b *Bot) handleReject(ctx context.Context, args string) string {
	fields := strings.SplitN(strings.TrimSpace(args), " ", 2)
	requestID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return "Usage: /reject <request id> [comment]"
	}
	comment := ""
	if len(fields) == 2 {
		comment = fields[1]
	}

	err = b.access.RejectRequest(ctx, requestID, comment)
	switch {
	case errors.Is(err, common.ErrAlreadyProcessed):
		return "That request was already processed."
	case errors.Is(err, common.ErrorNotFound):
		return "No such request."
	case err != nil:
		return "Something went wrong, please try again later."
	}
	return fmt.Sprintf("Request #%d rejected.", requestID)
}

func (b *Bot) handleUsers(ctx context.Context) string {
	users, err := b.access.ListUsersWithActiveProfile(ctx)
	if err != nil {
		return "Something went wrong, please try again later."
	}
	if len(users) == 0 {
		return "Nobody has active access."
	}

	var sb strings.Builder
	sb.WriteString("Users with active access:\n")
	for _, u := range users {
		fmt.Fprintf(&sb, "%s (telegram %d)\n", u.DisplayName(), u.TelegramID)
	}
	return sb.String()
}

func (b *Bot) handleStatus(ctx context.Context) string {
	status, err := b.access.ServerStatus(ctx)
	if err != nil {
		return "Panel is unreachable."
	}
	return fmt.Sprintf("Inbounds: %d\nClients: %d\nUpload: %s\nDownload: %s",
		status.Inbounds, status.Clients,
		formatBytes(status.UploadBytes), formatBytes(status.DownloadBytes))
}

func (b *Bot) handleOnline(ctx context.Context) string {
	online := b.access.OnlineClients(ctx)
	if len(online) == 0 {
		return "Nobody is online."
	}
	return "Online now:\n" + strings.Join(online, "\n")
}
