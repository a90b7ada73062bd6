// Package telegram adapts the Telegram Bot API to the notification client
// contract. Dialog handling lives elsewhere; this adapter only answers
// liveness checks and delivers digest texts.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"weatherbot/internal/common/logger"
	"weatherbot/internal/session"
)

// SessionReader is the read-only slice of the session manager the adapter
// needs for liveness checks.
type SessionReader interface {
	GetSession(ctx context.Context, userID int64) (session.Record, bool)
}

type Client struct {
	api      *tgbotapi.BotAPI
	sessions SessionReader
	logger   logger.Logger
}

func NewClient(token string, sessions SessionReader, log logger.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	log.Info("telegram client authorized", map[string]interface{}{
		"account": api.Self.UserName,
	})

	return &Client{
		api:      api,
		sessions: sessions,
		logger:   log.WithFields(map[string]interface{}{"component": "telegram-client"}),
	}, nil
}

// IsUserSessionActive reports whether the chat still has a live session.
func (c *Client) IsUserSessionActive(userID int64) bool {
	rec, ok := c.sessions.GetSession(context.Background(), userID)
	return ok && rec.Active && rec.State != session.StateInactive
}

// SendNotificationToUser delivers the digest text to the chat.
func (c *Client) SendNotificationToUser(ctx context.Context, userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", userID, err)
	}
	return nil
}

func (c *Client) Name() string {
	return "telegram"
}
