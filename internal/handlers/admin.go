package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// === User Management ===

func (h *Handler) GetUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.GetUsers(r.Context())
	if err != nil {
		http.Error(w, "Failed to get users", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Role != "admin" && req.Role != "student" && req.Role != "teacher" {
		http.Error(w, "Invalid role", http.StatusBadRequest)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		http.Error(w, "Username and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}

	user, err := h.Accounts.CreateUser(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		h.Logger.Error("create user", zap.Error(err))
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	h.Logger.Info("user created",
		zap.Int("actor", CurrentUserID(r)),
		zap.Int("user_id", user.ID),
		zap.String("role", user.Role))
	h.writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
}

func (h *Handler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	if id == CurrentUserID(r) {
		http.Error(w, "Cannot delete yourself", http.StatusBadRequest)
		return
	}

	if err := h.Accounts.DeleteUser(r.Context(), id); err != nil {
		http.Error(w, "Failed to delete user", http.StatusInternalServerError)
		return
	}
	h.Logger.Info("user deleted", zap.Int("actor", CurrentUserID(r)), zap.Int("user_id", id))
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
