// Package console is the terminal front end's notification client: digests
// are printed to the configured writer for the single local user.
package console

import (
	"context"
	"fmt"
	"io"
	"sync"

	"weatherbot/internal/session"
)

// SessionReader mirrors telegram.SessionReader for the terminal front end.
type SessionReader interface {
	GetSession(ctx context.Context, userID int64) (session.Record, bool)
}

type Client struct {
	userID   int64
	sessions SessionReader

	mu  sync.Mutex
	out io.Writer
}

// NewClient creates a console client bound to the local user's id.
func NewClient(out io.Writer, sessions SessionReader, userID int64) *Client {
	return &Client{userID: userID, sessions: sessions, out: out}
}

// IsUserSessionActive is true only for the local user, and only while their
// session is live.
func (c *Client) IsUserSessionActive(userID int64) bool {
	if userID != c.userID {
		return false
	}
	rec, ok := c.sessions.GetSession(context.Background(), userID)
	return ok && rec.Active && rec.State != session.StateInactive
}

func (c *Client) SendNotificationToUser(ctx context.Context, userID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "\n%s\n", text)
	return err
}

func (c *Client) Name() string {
	return "console"
}
