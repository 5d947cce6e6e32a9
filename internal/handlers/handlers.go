package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"portal-shell-go/internal/store"
)

type Handler struct {
	Notifications store.NotificationStore
	Accounts      store.AccountStore
	Pusher        *Pusher
	Sessions      sessions.Store
	Logger        *zap.Logger
}

func NewHandler(n store.NotificationStore, a store.AccountStore, p *Pusher, sess sessions.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Notifications: n,
		Accounts:      a,
		Pusher:        p,
		Sessions:      sess,
		Logger:        logger,
	}
}

// Routes registers the portal REST surface. Every path is also served under
// /api so the shell's API partition can front it.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc(prefix+"/auth/login", h.LoginHandler)
		mux.HandleFunc(prefix+"/auth/logout", h.AuthMiddleware(h.LogoutHandler))
		mux.HandleFunc(prefix+"/auth/me", h.AuthMiddleware(h.CurrentUserHandler))

		mux.HandleFunc(prefix+"/notifications", h.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				h.ListNotificationsHandler(w, r)
			case http.MethodPost:
				h.AdminMiddleware(h.CreateNotificationHandler)(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		mux.HandleFunc(prefix+"/notifications/mark-read", h.AuthMiddleware(h.MarkReadHandler))
		mux.HandleFunc(prefix+"/notifications/mark-all-read", h.AuthMiddleware(h.MarkAllReadHandler))

		mux.HandleFunc(prefix+"/push/public-key", h.PublicKeyHandler)
		mux.HandleFunc(prefix+"/push/subscribe", h.AuthMiddleware(h.SubscribePushHandler))
		mux.HandleFunc(prefix+"/push/unsubscribe", h.AuthMiddleware(h.UnsubscribePushHandler))

		mux.HandleFunc(prefix+"/admin/users", h.AuthMiddleware(h.AdminMiddleware(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				h.GetUsersHandler(w, r)
			case http.MethodPost:
				h.CreateUserHandler(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})))
		mux.HandleFunc(prefix+"/admin/users/", h.AuthMiddleware(h.AdminMiddleware(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodDelete {
				h.DeleteUserHandler(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})))
	}
	return mux
}

// Health reports whether both stores are reachable.
func (h *Handler) Health(ctx context.Context) error {
	if err := h.Notifications.Ping(ctx); err != nil {
		return err
	}
	if p, ok := h.Accounts.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Warn("encode response", zap.Error(err))
	}
}

func queryInt(r *http.Request, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return min(max(v, lo), hi)
}
