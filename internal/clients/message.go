// Package clients tracks the open portal windows connected to the shell and
// carries messages between them and the shell.
package clients

import "portal-shell-go/internal/models"

// Message types exchanged between the shell and its windows.
const (
	SkipWaiting          = "SKIP_WAITING"
	PushNotification     = "PUSH_NOTIFICATION"
	NotificationMarkRead = "NOTIFICATION_MARK_READ"
	NotificationClosed   = "NOTIFICATION_CLOSED"
	Activated            = "SW_ACTIVATED"
	Navigate             = "NAVIGATE"
	Focus                = "FOCUS"

	// Platform events reported to the shell when the user acts on a shown
	// notification.
	NotificationClick   = "NOTIFICATION_CLICK"
	NotificationDismiss = "NOTIFICATION_DISMISS"
)

type Message struct {
	Type    string                      `json:"type"`
	ID      models.NotificationID       `json:"id,omitempty"`
	Title   string                      `json:"title,omitempty"`
	Options *models.NotificationOptions `json:"options,omitempty"`
	URL     string                      `json:"url,omitempty"`
	Action  string                      `json:"action,omitempty"`
	Tag     string                      `json:"tag,omitempty"`
}
