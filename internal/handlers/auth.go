package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"portal-shell-go/internal/store"
)

const sessionName = "portal-session"

type ctxKey int

const (
	userIDKey ctxKey = iota
	roleKey
)

// LoginHandler checks credentials and starts both a cookie session and a
// bearer token for API clients.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := h.Accounts.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !user.CheckPassword(req.Password) {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}

	token, err := h.Notifications.CreateToken(r.Context(), user.ID)
	if err != nil {
		h.Logger.Error("create token", zap.Error(err))
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	session, _ := h.Sessions.Get(r, sessionName)
	session.Values["user_id"] = user.ID
	session.Values["role"] = user.Role
	if err := session.Save(r, w); err != nil {
		h.Logger.Warn("save session", zap.Error(err))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if token := bearerToken(r); token != "" {
		if err := h.Notifications.DeleteToken(r.Context(), token); err != nil {
			h.Logger.Warn("delete token", zap.Error(err))
		}
	}
	session, _ := h.Sessions.Get(r, sessionName)
	session.Values["user_id"] = nil
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.Accounts.GetUser(r.Context(), CurrentUserID(r))
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// AuthMiddleware accepts a bearer token or a session cookie and puts the user
// on the request context.
func (h *Handler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := h.authenticate(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, roleKey, role)
		next(w, r.WithContext(ctx))
	}
}

func (h *Handler) authenticate(r *http.Request) (int, string, error) {
	if token := bearerToken(r); token != "" {
		id, err := h.Notifications.TokenUser(r.Context(), token)
		if err != nil {
			return 0, "", err
		}
		user, err := h.Accounts.GetUser(r.Context(), id)
		if err != nil {
			return 0, "", err
		}
		return user.ID, user.Role, nil
	}

	session, _ := h.Sessions.Get(r, sessionName)
	userID, ok := session.Values["user_id"].(int)
	if !ok || userID == 0 {
		return 0, "", store.ErrInvalidToken
	}
	role, _ := session.Values["role"].(string)
	return userID, role, nil
}

// AdminMiddleware must run inside AuthMiddleware.
func (h *Handler) AdminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(roleKey).(string)
		if role != "admin" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// CurrentUserID returns the authenticated user, or 0 outside AuthMiddleware.
func CurrentUserID(r *http.Request) int {
	id, _ := r.Context().Value(userIDKey).(int)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// InitAdmin creates a default admin user if none exists
func (h *Handler) InitAdmin(ctx context.Context, password string) {
	users, err := h.Accounts.GetUsers(ctx)
	if err == nil && len(users) > 0 {
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.Logger.Warn("list users", zap.Error(err))
	}
	user, err := h.Accounts.CreateUser(ctx, "admin", password, "admin")
	if err != nil {
		h.Logger.Error("failed to create default admin", zap.Error(err))
		return
	}
	h.Logger.Info("created default admin user", zap.String("username", user.Username))
}
