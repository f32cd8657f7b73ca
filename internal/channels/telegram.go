package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/valetd/valet/internal/approval"
	"github.com/valetd/valet/internal/bus"
	"github.com/valetd/valet/internal/journal"
)

// TelegramChannel is the Telegram transport: long-poll inbound, bus-driven
// outbound, and inline-keyboard approval prompts.
type TelegramChannel struct {
	BaseChannel
	token      string
	allowedIDs map[int64]struct{}
	approvals  *approval.Manager
	journal    *journal.Journal
	bot        *tgbotapi.BotAPI
}

// NewTelegramChannel creates a Telegram channel restricted to allowedIDs.
func NewTelegramChannel(token string, allowedIDs []int64, messageBus *bus.MessageBus, approvals *approval.Manager, jnl *journal.Journal) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		token:       token,
		allowedIDs:  allowed,
		approvals:   approvals,
		journal:     jnl,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Start connects the bot and polls updates until ctx is cancelled,
// reconnecting with exponential backoff on poll failures.
func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	slog.Info("telegram bot started", "user", t.bot.Self.UserName)

	t.Bus.Subscribe(t.Name(), func(msg *bus.OutboundMessage) {
		if err := t.Send(ctx, msg); err != nil {
			slog.Warn("telegram send failed", "chat", msg.ChatID, "error", err)
			t.journal.Record(journal.Entry{
				Kind:    journal.KindDeliveryFail,
				Summary: "telegram delivery failed",
				Detail:  err.Error(),
				UserKey: msg.UserKey,
			})
			return
		}
		t.journal.Record(journal.Entry{
			Kind:    journal.KindDeliveryOK,
			Summary: "reply delivered via telegram",
			UserKey: msg.UserKey,
		})
	})

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			slog.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// Stop is a no-op; Start returns when its context is cancelled.
func (t *TelegramChannel) Stop() error { return nil }

// Send delivers an outbound message to its chat.
func (t *TelegramChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", msg.ChatID, err)
	}
	_, err = t.bot.Send(tgbotapi.NewMessage(chatID, msg.Content))
	return err
}

// pollUpdates reads updates until ctx is done, the channel closes, or the
// stream stalls past twice the long-poll timeout.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
					slog.Warn("telegram access denied", "user_id", update.Message.From.ID)
					continue
				}
				t.handleMessage(update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				if _, ok := t.allowedIDs[update.CallbackQuery.From.ID]; !ok {
					slog.Warn("telegram callback access denied", "user_id", update.CallbackQuery.From.ID)
					continue
				}
				t.handleCallbackQuery(update.CallbackQuery)
				continue
			}
		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}
	t.Bus.PublishInbound(&bus.InboundMessage{
		Channel:  t.Name(),
		SenderID: strconv.FormatInt(msg.From.ID, 10),
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		TraceID:  uuid.NewString(),
		Content:  content,
	})
}

// AskApproval sends an inline-keyboard approval prompt and blocks until a
// button is pressed or ctx expires. Wired as the autonomy gate's callback.
func (t *TelegramChannel) AskApproval(ctx context.Context, userKey, toolName string, args map[string]any) (bool, error) {
	if t.bot == nil {
		return false, fmt.Errorf("telegram not connected")
	}
	chatID, err := chatIDFromUserKey(userKey)
	if err != nil {
		return false, err
	}

	id := t.approvals.Create(&approval.Request{
		UserKey:   userKey,
		Tool:      toolName,
		Arguments: args,
	})

	prompt := tgbotapi.NewMessage(chatID, fmt.Sprintf("Approval needed: run %s?\n%s", toolName, summarizeArgs(args)))
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", "appr:"+id+":yes"),
			tgbotapi.NewInlineKeyboardButtonData("Deny", "appr:"+id+":no"),
		),
	)
	if _, err := t.bot.Send(prompt); err != nil {
		return false, fmt.Errorf("send approval prompt: %w", err)
	}

	return t.approvals.Wait(ctx, id)
}

// handleCallbackQuery resolves approval button presses.
func (t *TelegramChannel) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	id, approved, err := ParseApprovalCallback(query.Data)
	if err != nil {
		return
	}
	verdict := "denied"
	if approved {
		verdict = "approved"
	}
	if err := t.approvals.Respond(id, approved); err != nil {
		verdict = "already resolved"
	}

	ack := tgbotapi.NewCallback(query.ID, "Request "+verdict)
	if _, err := t.bot.Request(ack); err != nil {
		slog.Warn("telegram callback ack failed", "error", err)
	}
	// Strip the buttons so the verdict can't be clicked twice.
	edit := tgbotapi.NewEditMessageText(query.Message.Chat.ID, query.Message.MessageID,
		query.Message.Text+"\n\n("+verdict+")")
	if _, err := t.bot.Send(edit); err != nil {
		slog.Debug("telegram prompt edit failed", "error", err)
	}
}

// ParseApprovalCallback decodes "appr:<id>:<yes|no>" callback data.
func ParseApprovalCallback(data string) (id string, approved bool, err error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != "appr" {
		return "", false, fmt.Errorf("not an approval callback: %q", data)
	}
	switch parts[2] {
	case "yes":
		return parts[1], true, nil
	case "no":
		return parts[1], false, nil
	}
	return "", false, fmt.Errorf("bad verdict %q", parts[2])
}

// chatIDFromUserKey extracts the numeric chat id from a "telegram:<id>" user
// key. Approval prompts go directly to the user's own chat.
func chatIDFromUserKey(userKey string) (int64, error) {
	rest, ok := strings.CutPrefix(userKey, "telegram:")
	if !ok {
		return 0, fmt.Errorf("user %q is not reachable via telegram", userKey)
	}
	return strconv.ParseInt(rest, 10, 64)
}

func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "(no arguments)"
	}
	var out strings.Builder
	for k, v := range args {
		if strings.HasPrefix(k, "_") {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if len(s) > 120 {
			s = s[:120] + "..."
		}
		fmt.Fprintf(&out, "%s: %s\n", k, s)
	}
	return strings.TrimSpace(out.String())
}
