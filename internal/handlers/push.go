package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"portal-shell-go/internal/models"
	"portal-shell-go/internal/obs"
	"portal-shell-go/internal/store"
)

type PusherConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
	// HTTPClient overrides the client used to reach push services.
	HTTPClient webpush.HTTPClient
}

// Pusher delivers VAPID-signed web pushes to a user's stored subscriptions.
type Pusher struct {
	cfg    PusherConfig
	subs   store.AccountStore
	logger *zap.Logger
}

func NewPusher(cfg PusherConfig, subs store.AccountStore, logger *zap.Logger) *Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{cfg: cfg, subs: subs, logger: logger}
}

func (p *Pusher) PublicKey() string {
	return p.cfg.PublicKey
}

// Send pushes message to every subscription of userID and returns how many
// push services accepted it. Subscriptions the push service reports gone are
// deleted.
func (p *Pusher) Send(ctx context.Context, userID int, message []byte) (int, error) {
	subs, err := p.subs.GetPushSubscriptions(ctx, userID)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, message, s, &webpush.Options{
			HTTPClient:      p.cfg.HTTPClient,
			Subscriber:      p.cfg.Subject,
			VAPIDPublicKey:  p.cfg.PublicKey,
			VAPIDPrivateKey: p.cfg.PrivateKey,
			TTL:             p.cfg.TTL,
			Urgency:         webpush.UrgencyNormal,
		})
		if err != nil {
			obs.PushDeliveries.WithLabelValues("error").Inc()
			p.logger.Warn("push send failed", zap.String("endpoint", sub.Endpoint), zap.Error(err))
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			obs.PushDeliveries.WithLabelValues("gone").Inc()
			if err := p.subs.DeletePushSubscriptionByEndpoint(ctx, sub.Endpoint); err != nil {
				p.logger.Warn("prune subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
			}
		case resp.StatusCode >= 400:
			obs.PushDeliveries.WithLabelValues("rejected").Inc()
			p.logger.Warn("push rejected", zap.String("endpoint", sub.Endpoint), zap.Int("status", resp.StatusCode))
		default:
			obs.PushDeliveries.WithLabelValues("ok").Inc()
			sent++
		}
	}
	return sent, nil
}

// PublicKeyHandler returns the public VAPID key
func (h *Handler) PublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"key": h.Pusher.PublicKey()})
}

func decodeSubscription(r *http.Request) (models.Subscription, bool) {
	var sub models.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		return sub, false
	}
	return sub, true
}

// SubscribePushHandler upserts a push subscription for the current user
func (h *Handler) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sub, ok := decodeSubscription(r)
	if !ok || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}

	if err := h.Accounts.SavePushSubscription(r.Context(), CurrentUserID(r), sub); err != nil {
		h.Logger.Error("failed to save subscription", zap.Error(err))
		http.Error(w, "Failed to save subscription", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sub, ok := decodeSubscription(r)
	if !ok {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}

	if err := h.Accounts.DeletePushSubscription(r.Context(), CurrentUserID(r), sub.Endpoint); err != nil {
		h.Logger.Error("failed to delete subscription", zap.Error(err))
		http.Error(w, "Failed to delete subscription", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
