// Package pushsub keeps this device's push subscription in step with the
// portal's VAPID key and the portal's subscription registry.
package pushsub

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"portal-shell-go/internal/api"
	"portal-shell-go/internal/localstore"
	"portal-shell-go/internal/models"
)

// ErrInvalidKey is returned for a VAPID public key that is not a base64url
// encoded uncompressed P-256 point.
var ErrInvalidKey = errors.New("pushsub: invalid VAPID public key")

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Permissions is the platform's notification permission prompt.
type Permissions interface {
	Supported() bool
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
}

// StaticPermissions answers with a fixed permission. Headless shells use it
// where there is nobody to prompt.
type StaticPermissions Permission

func (p StaticPermissions) Supported() bool        { return true }
func (p StaticPermissions) Permission() Permission { return Permission(p) }

func (p StaticPermissions) RequestPermission(context.Context) (Permission, error) {
	return Permission(p), nil
}

// PushManager is the platform's push subscription API.
type PushManager interface {
	Supported() bool
	// Ready registers the worker if needed and waits until it is active.
	Ready(ctx context.Context) error
	GetSubscription(ctx context.Context) (*models.Subscription, error)
	Subscribe(ctx context.Context, applicationServerKey []byte) (*models.Subscription, error)
	Unsubscribe(ctx context.Context, sub *models.Subscription) error
}

// Server is the portal side of the subscription registry.
type Server interface {
	PushPublicKey(ctx context.Context) (string, error)
	PushSubscribe(ctx context.Context, sub models.Subscription) error
	PushUnsubscribe(ctx context.Context, sub models.Subscription) error
}

type Manager struct {
	push   PushManager
	perms  Permissions
	server Server
	store  localstore.Store
	logger *zap.Logger

	retryDelay time.Duration
}

func NewManager(push PushManager, perms Permissions, server Server, store localstore.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		push:       push,
		perms:      perms,
		server:     server,
		store:      store,
		logger:     logger,
		retryDelay: 500 * time.Millisecond,
	}
}

// DecodeKey converts a base64url VAPID public key to its raw bytes. Padding
// and the standard alphabet are tolerated.
func DecodeKey(key string) ([]byte, error) {
	s := strings.TrimRight(strings.TrimSpace(key), "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 65 || raw[0] != 0x04 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}
	return raw, nil
}

// NewVAPIDKeys generates a key pair for development setups.
func NewVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}

// Ensure makes sure this device holds a push subscription for vapidPublicKey
// and that the portal knows about it. It returns nil without error when push
// is unavailable: unsupported platform, or permission not granted.
func (m *Manager) Ensure(ctx context.Context, vapidPublicKey string) (*models.Subscription, error) {
	if !m.push.Supported() || !m.perms.Supported() {
		return nil, nil
	}
	switch m.perms.Permission() {
	case PermissionDenied:
		return nil, nil
	case PermissionDefault:
		p, err := m.perms.RequestPermission(ctx)
		if err != nil {
			return nil, fmt.Errorf("request permission: %w", err)
		}
		if p != PermissionGranted {
			return nil, nil
		}
	}

	raw, err := DecodeKey(vapidPublicKey)
	if err != nil {
		return nil, err
	}
	if err := m.push.Ready(ctx); err != nil {
		return nil, fmt.Errorf("worker not ready: %w", err)
	}

	sub, err := m.push.GetSubscription(ctx)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	stored, hasStored := m.store.Get(localstore.KeyVAPIDKey)
	if sub != nil && hasStored && stored != vapidPublicKey {
		m.logger.Info("push key rotated, resubscribing")
		if err := m.push.Unsubscribe(ctx, sub); err != nil {
			m.logger.Warn("unsubscribe stale subscription", zap.Error(err))
		}
		sub = nil
	}

	if sub == nil {
		sub, err = m.push.Subscribe(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}
	if !hasStored || stored != vapidPublicKey {
		if err := m.store.Set(localstore.KeyVAPIDKey, vapidPublicKey); err != nil {
			m.logger.Warn("persist push key", zap.Error(err))
		}
	}

	m.register(ctx, *sub)
	return sub, nil
}

// EnsureFromServer fetches the portal's current key and calls Ensure.
func (m *Manager) EnsureFromServer(ctx context.Context) (*models.Subscription, error) {
	if !m.push.Supported() || !m.perms.Supported() {
		return nil, nil
	}
	key, err := m.server.PushPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch push key: %w", err)
	}
	return m.Ensure(ctx, key)
}

// register upserts sub on the portal. Failures are logged only: the next
// Ensure registers again.
func (m *Manager) register(ctx context.Context, sub models.Subscription) {
	err := retry.Do(
		func() error {
			err := m.server.PushSubscribe(ctx, sub)
			if err != nil && !retryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(m.retryDelay),
		retry.MaxJitter(m.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Debug("retrying push registration", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		m.logger.Warn("push registration failed", zap.Error(err))
	}
}

func retryable(err error) bool {
	if errors.Is(err, api.ErrUnauthorized) {
		return false
	}
	var se *api.StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Unsubscribe removes this device's subscription. The portal is told first,
// best-effort; the stored key is cleared whatever happens.
func (m *Manager) Unsubscribe(ctx context.Context) (bool, error) {
	if !m.push.Supported() {
		return false, nil
	}
	defer func() {
		if err := m.store.Delete(localstore.KeyVAPIDKey); err != nil {
			m.logger.Warn("clear push key", zap.Error(err))
		}
	}()

	sub, err := m.push.GetSubscription(ctx)
	if err != nil {
		return false, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		return false, nil
	}

	if err := m.server.PushUnsubscribe(ctx, *sub); err != nil {
		m.logger.Warn("server unsubscribe failed", zap.Error(err))
	}
	if err := m.push.Unsubscribe(ctx, sub); err != nil {
		return false, fmt.Errorf("unsubscribe: %w", err)
	}
	return true, nil
}
