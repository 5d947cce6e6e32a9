package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"portal-shell-go/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (h *Handler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageSize, 1, maxPageSize)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	page, err := h.Notifications.ListNotifications(r.Context(), CurrentUserID(r), limit, offset)
	if err != nil {
		h.Logger.Error("list notifications", zap.Error(err))
		http.Error(w, "Failed to get notifications", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		IDs []models.NotificationID `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := h.Notifications.MarkRead(r.Context(), CurrentUserID(r), req.IDs); err != nil {
		h.Logger.Error("mark read", zap.Error(err))
		http.Error(w, "Failed to mark read", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.Notifications.MarkAllRead(r.Context(), CurrentUserID(r)); err != nil {
		h.Logger.Error("mark all read", zap.Error(err))
		http.Error(w, "Failed to mark read", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CreateNotificationHandler stores a notification on the user's timeline and
// fans it out: to subscribed shells over Redis and to the user's browsers as
// web push.
func (h *Handler) CreateNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID             int             `json:"user_id"`
		Title              string          `json:"title"`
		Body               string          `json:"body"`
		Type               string          `json:"type"`
		URL                string          `json:"url"`
		Icon               string          `json:"icon"`
		RequireInteraction bool            `json:"requireInteraction"`
		Actions            []models.Action `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.UserID == 0 || req.Title == "" {
		http.Error(w, "user_id and title are required", http.StatusBadRequest)
		return
	}

	n, err := h.Notifications.AddNotification(r.Context(), req.UserID, models.Notification{
		Title: req.Title,
		Body:  req.Body,
		Type:  req.Type,
		URL:   req.URL,
		Icon:  req.Icon,
	})
	if err != nil {
		h.Logger.Error("add notification", zap.Error(err))
		http.Error(w, "Failed to add notification", http.StatusInternalServerError)
		return
	}

	payload := models.PushPayload{
		Title:              n.Title,
		Body:               n.Body,
		ID:                 &n.ID,
		Type:               n.Type,
		URL:                n.URL,
		Icon:               n.Icon,
		RequireInteraction: req.RequireInteraction,
		Timestamp:          n.CreatedAt.UnixMilli(),
		Actions:            req.Actions,
	}
	if unread, err := h.Notifications.UnreadCount(r.Context(), req.UserID); err == nil {
		u := float64(unread)
		payload.UnreadCount = &u
	}
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to encode push", http.StatusInternalServerError)
		return
	}

	if err := h.Notifications.PublishPush(r.Context(), req.UserID, data); err != nil {
		h.Logger.Warn("failed to publish push", zap.Error(err))
	}
	sent := 0
	if h.Pusher != nil {
		sent, err = h.Pusher.Send(r.Context(), req.UserID, data)
		if err != nil {
			h.Logger.Warn("web push fan-out failed", zap.Int("user_id", req.UserID), zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"notification": n,
		"pushed":       sent,
	})
}
