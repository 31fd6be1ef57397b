package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
	"healthwatch/internal/msgfmt"
)

// TelegramPublisher pushes alert messages to admin and village chats.
// Params: bot client, global chat id, and per-village chat map.
// Returns: publisher implementation for the Telegram transport.
type TelegramPublisher struct {
	client       *tgbot.Bot
	globalChatID any
	villageChats map[string]any
	initErr      error
}

// NewTelegramPublisher creates a Telegram publisher with the Bot API client.
// Params: Telegram notifier config.
// Returns: initialized publisher; init errors surface on first publish.
func NewTelegramPublisher(cfg config.TelegramNotifier) *TelegramPublisher {
	publisher := &TelegramPublisher{
		globalChatID: normalizeChatID(cfg.GlobalChatID),
		villageChats: make(map[string]any, len(cfg.VillageChats)),
	}
	for village, chatID := range cfg.VillageChats {
		publisher.villageChats[VillageToken(village)] = normalizeChatID(chatID)
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		publisher.initErr = errors.New("telegram bot token is required")
		return publisher
	}
	if strings.TrimSpace(cfg.GlobalChatID) == "" {
		publisher.initErr = errors.New("telegram global_chat_id is required")
		return publisher
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/"); base != "" {
		options = append(options, tgbot.WithServerURL(base))
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		publisher.initErr = fmt.Errorf("init telegram bot: %w", err)
		return publisher
	}
	publisher.client = botClient
	return publisher
}

// Name returns the publisher key.
// Params: none.
// Returns: static transport name.
func (p *TelegramPublisher) Name() string {
	return "telegram"
}

// Publish posts one alert message to the chat addressed by the scope.
// Params: context, scope, and event payload.
// Returns: transport error; village scopes without a chat are skipped.
func (p *TelegramPublisher) Publish(ctx context.Context, scope Scope, event domain.AlertEvent) error {
	if p.initErr != nil {
		return p.initErr
	}
	if p.client == nil {
		return errors.New("telegram client is not initialized")
	}

	chatID := p.globalChatID
	if scope.Kind == ScopeKindVillage {
		villageChatID, ok := p.villageChats[VillageToken(scope.Village)]
		if !ok {
			return nil
		}
		chatID = villageChatID
	}

	sent, err := p.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      formatAlertText(event),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// Close releases Telegram resources.
// Params: none.
// Returns: nil; the bot client holds no persistent connection.
func (p *TelegramPublisher) Close() error {
	return nil
}

// formatAlertText renders one alert event as a Telegram HTML message.
// Params: alert event.
// Returns: message body.
func formatAlertText(event domain.AlertEvent) string {
	alert := event.Alert
	var b strings.Builder
	switch event.Kind {
	case domain.AlertEventCreated:
		b.WriteString("\U0001F6A8 <b>")
	default:
		b.WriteString("ℹ️ <b>")
	}
	b.WriteString(html.EscapeString(alert.Title))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(alert.Message))
	b.WriteString("\nseverity: ")
	b.WriteString(string(alert.Severity))
	b.WriteString("\nstatus: ")
	b.WriteString(string(alert.Status))
	if alert.Village != "" {
		b.WriteString("\nvillage: ")
		b.WriteString(html.EscapeString(msgfmt.Title(alert.Village)))
	}
	b.WriteString("\nreports: ")
	b.WriteString(strconv.Itoa(len(alert.ReportIDs)))
	return b.String()
}

// normalizeChatID converts numeric chat IDs to int64 and keeps names as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
