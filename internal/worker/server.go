package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"portal-shell-go/internal/clients"
	"portal-shell-go/internal/device"
	"portal-shell-go/internal/models"
	"portal-shell-go/internal/reminder"
)

const (
	maxPushBody      = 4096
	maxEncryptedBody = 8192
)

var errNoWindows = errors.New("no open windows")

// Server exposes the runtime to windows: the proxied portal on every path,
// and the /sw/ control endpoints.
type Server struct {
	rt        *Runtime
	hub       *clients.Hub
	tray      *Tray
	reminders *reminder.Scheduler
	device    Decrypter
	secret    []byte
	logger    *zap.Logger
}

// Decrypter opens encrypted pushes delivered to the shell's own endpoint.
type Decrypter interface {
	Decrypt(id string, body []byte) ([]byte, error)
}

func NewServer(rt *Runtime, hub *clients.Hub, tray *Tray, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{rt: rt, hub: hub, tray: tray, logger: logger}
}

// WithDevice enables /sw/push/{id}, the endpoint push services deliver to.
func (s *Server) WithDevice(d Decrypter) *Server {
	s.device = d
	return s
}

// WithPushSecret requires plaintext pushes on /sw/push to carry
// X-Push-Signature, the hex HMAC-SHA256 of the body.
func (s *Server) WithPushSecret(secret string) *Server {
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

// WithReminders enables /sw/reminders.
func (s *Server) WithReminders(r *reminder.Scheduler) *Server {
	s.reminders = r
	return s
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sw/events", s.hub.ServeSSE)
	mux.HandleFunc("/sw/message", s.MessageHandler)
	mux.HandleFunc("/sw/push", s.PushHandler)
	if s.device != nil {
		mux.HandleFunc("/sw/push/", s.DevicePushHandler)
	}
	mux.HandleFunc("/sw/notifications", s.NotificationsHandler)
	if s.reminders != nil {
		mux.HandleFunc("/sw/reminders", s.RemindersHandler)
	}
	mux.Handle("/", s.rt)
	return mux
}

// MessageHandler accepts a message from a window.
func (s *Server) MessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var m clients.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m.Type == "" {
		http.Error(w, "Invalid message", http.StatusBadRequest)
		return
	}

	// Clicks and dismissals name the notification by tag; the tray holds its data.
	if (m.Type == clients.NotificationClick || m.Type == clients.NotificationDismiss) && m.Tag != "" && m.Options == nil {
		if shown, ok := s.tray.Take(m.Tag); ok {
			opts := shown.Options
			m.Options = &opts
		}
	}

	if err := s.rt.HandleMessage(r.Context(), m); err != nil {
		s.logger.Warn("handle message", zap.String("type", m.Type), zap.Error(err))
		http.Error(w, "Failed to handle message", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PushHandler delivers a plaintext push payload to the runtime.
func (s *Server) PushHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody+1))
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if len(data) > maxPushBody {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !s.validSignature(r.Header.Get("X-Push-Signature"), data) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}
	if err := s.rt.Push(r.Context(), data); err != nil {
		s.logger.Error("push failed", zap.Error(err))
		http.Error(w, "Failed to show notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) validSignature(sig string, body []byte) bool {
	if s.secret == nil {
		return true
	}
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}

// DevicePushHandler is the push service side of the shell's own subscription.
// Unknown subscriptions answer 410 so senders drop them.
func (s *Server) DevicePushHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sw/push/")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEncryptedBody+1))
	if err != nil || len(body) > maxEncryptedBody {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if enc := r.Header.Get("Content-Encoding"); enc != "" && enc != "aes128gcm" {
		http.Error(w, "Unsupported content encoding", http.StatusUnsupportedMediaType)
		return
	}

	data, err := s.device.Decrypt(id, body)
	switch {
	case errors.Is(err, device.ErrUnknownSubscription):
		http.Error(w, "Subscription gone", http.StatusGone)
		return
	case err != nil:
		s.logger.Warn("undecryptable push", zap.String("subscription", id), zap.Error(err))
		http.Error(w, "Bad push message", http.StatusBadRequest)
		return
	}

	if err := s.rt.Push(r.Context(), bytes.TrimSpace(data)); err != nil {
		s.logger.Error("push failed", zap.Error(err))
		http.Error(w, "Failed to show notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	badge, hasBadge := s.tray.Badge()
	resp := map[string]any{
		"notifications": s.tray.Notifications(r.URL.Query().Get("tag")),
	}
	if hasBadge {
		resp["badge"] = badge
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode notifications", zap.Error(err))
	}
}

// RemindersHandler replaces the reminder schedule on POST (or PUT) and clears
// it on DELETE. GET reports how many reminders are pending.
func (s *Server) RemindersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost, http.MethodPut:
		var items []reminder.Item
		if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
			http.Error(w, "Invalid reminders", http.StatusBadRequest)
			return
		}
		s.reminders.Set(items)
	case http.MethodDelete:
		s.reminders.Stop()
	case http.MethodGet:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{"pending": s.reminders.Pending()}); err != nil {
		s.logger.Warn("encode reminders", zap.Error(err))
	}
}

// WindowNotifier shows a notification inside the open windows only, by
// relaying it as PUSH_NOTIFICATION.
type WindowNotifier struct {
	Clients Clients
}

func (n WindowNotifier) ShowNotification(_ context.Context, title string, opts models.NotificationOptions) error {
	if n.Clients.Broadcast(clients.Message{Type: clients.PushNotification, Title: title, Options: &opts}) == 0 {
		return errNoWindows
	}
	return nil
}
