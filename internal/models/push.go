package models

import (
	"strconv"
	"time"
)

// PushChannel is the Redis channel the portal API publishes userID's push
// payloads on.
func PushChannel(userID int) string {
	return "push_events:" + strconv.Itoa(userID)
}

// Keys are the client encryption keys of a push subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is the browser-held push subscription as exchanged with the API.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// PushSubscription is a stored subscription row.
type PushSubscription struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"keys_p256dh"` // Mapped from keys.p256dh
	Auth      string    `json:"keys_auth"`   // Mapped from keys.auth
	CreatedAt time.Time `json:"created_at"`
}

// Action is a notification action button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// PushPayload is the JSON body a push message carries. Every field is optional.
type PushPayload struct {
	Title              string          `json:"title,omitempty"`
	Body               string          `json:"body,omitempty"`
	ID                 *NotificationID `json:"id,omitempty"`
	Type               string          `json:"type,omitempty"`
	URL                string          `json:"url,omitempty"`
	Tag                string          `json:"tag,omitempty"`
	Renotify           bool            `json:"renotify,omitempty"`
	RequireInteraction bool            `json:"requireInteraction,omitempty"`
	Icon               string          `json:"icon,omitempty"`
	Badge              string          `json:"badge,omitempty"`
	Timestamp          int64           `json:"timestamp,omitempty"`
	UnreadCount        *float64        `json:"unreadCount,omitempty"`
	Actions            []Action        `json:"actions,omitempty"`
	Data               map[string]any  `json:"data,omitempty"`
}

// NotificationData travels with a shown notification and drives click routing.
type NotificationData struct {
	URL  string         `json:"url"`
	ID   NotificationID `json:"id,omitempty"`
	Type string         `json:"type,omitempty"`
}

// NotificationOptions is what the shell hands to the platform notifier.
type NotificationOptions struct {
	Body               string           `json:"body,omitempty"`
	Tag                string           `json:"tag"`
	Renotify           bool             `json:"renotify,omitempty"`
	RequireInteraction bool             `json:"requireInteraction,omitempty"`
	Icon               string           `json:"icon,omitempty"`
	Badge              string           `json:"badge,omitempty"`
	Timestamp          int64            `json:"timestamp,omitempty"`
	Actions            []Action         `json:"actions,omitempty"`
	Data               NotificationData `json:"data"`
}
