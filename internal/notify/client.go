package notify

import "context"

// Client delivers notifications for one front end (terminal, chat platform).
// The scheduler asks it whether the user's channel is live before composing
// a digest, and hands it the final text for delivery.
type Client interface {
	IsUserSessionActive(userID int64) bool
	SendNotificationToUser(ctx context.Context, userID int64, text string) error
	Name() string
}
