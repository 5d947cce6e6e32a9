package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// NotificationID is the identity of a notification. The portal API emits it
// either as a JSON number or a JSON string; both decode to the same value.
type NotificationID string

func (id *NotificationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NotificationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = NotificationID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as JSON numbers so the API sees the type it
// issued.
func (id NotificationID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Int reports the numeric form of the id, if it has one.
func (id NotificationID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

func (id NotificationID) String() string { return string(id) }

type Notification struct {
	ID        NotificationID `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Type      string         `json:"type,omitempty"`
	URL       string         `json:"url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Read      bool           `json:"read"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Icon      string         `json:"icon,omitempty"`
}

// NotificationPage is one page of GET /notifications.
type NotificationPage struct {
	Items       []Notification `json:"items"`
	UnreadCount int            `json:"unread_count"`
	HasMore     bool           `json:"has_more"`
}
