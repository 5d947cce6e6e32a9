// Package device makes the shell its own push endpoint. It holds the
// subscriber keys that push senders encrypt to and decrypts what they deliver
// (RFC 8291, aes128gcm content coding).
package device

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"portal-shell-go/internal/localstore"
	"portal-shell-go/internal/models"
)

// EndpointPath is where push senders deliver; the subscription id follows.
const EndpointPath = "/sw/push/"

const (
	keyID   = "push_device_id"
	keyPriv = "push_device_key"
	keyAuth = "push_device_auth"

	headerLen = 16 + 4 + 1
)

var (
	ErrUnknownSubscription = errors.New("device: unknown subscription")
	ErrMalformed           = errors.New("device: malformed push message")
)

type subscription struct {
	id   string
	priv *ecdh.PrivateKey
	auth []byte
}

// Device implements the platform push manager for a headless shell.
type Device struct {
	baseURL string
	store   localstore.Store
	logger  *zap.Logger

	mu  sync.Mutex
	sub *subscription
}

// New restores a previously created subscription from store, if any.
func New(baseURL string, store localstore.Store, logger *zap.Logger) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Device{baseURL: strings.TrimRight(baseURL, "/"), store: store, logger: logger}

	id, ok := store.Get(keyID)
	if !ok {
		return d, nil
	}
	privB64, _ := store.Get(keyPriv)
	authB64, _ := store.Get(keyAuth)
	privRaw, err := base64.RawURLEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("decode device key: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(privRaw)
	if err != nil {
		return nil, fmt.Errorf("decode device key: %w", err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(authB64)
	if err != nil || len(auth) != 16 {
		return nil, errors.New("decode device auth secret")
	}
	d.sub = &subscription{id: id, priv: priv, auth: auth}
	return d, nil
}

func (d *Device) Supported() bool { return true }

func (d *Device) Ready(context.Context) error { return nil }

func (d *Device) GetSubscription(context.Context) (*models.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub == nil {
		return nil, nil
	}
	return d.subscriptionLocked(), nil
}

// Subscribe creates a fresh subscription, replacing any existing one.
func (d *Device) Subscribe(_ context.Context, applicationServerKey []byte) (*models.Subscription, error) {
	if _, err := ecdh.P256().NewPublicKey(applicationServerKey); err != nil {
		return nil, fmt.Errorf("application server key: %w", err)
	}
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, err
	}
	sub := &subscription{id: uuid.NewString(), priv: priv, auth: auth}

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range map[string]string{
		keyID:   sub.id,
		keyPriv: base64.RawURLEncoding.EncodeToString(priv.Bytes()),
		keyAuth: base64.RawURLEncoding.EncodeToString(auth),
	} {
		if err := d.store.Set(k, v); err != nil {
			return nil, fmt.Errorf("persist subscription: %w", err)
		}
	}
	d.sub = sub
	d.logger.Info("push subscription created", zap.String("id", sub.id))
	return d.subscriptionLocked(), nil
}

func (d *Device) Unsubscribe(context.Context, *models.Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sub = nil
	var errs []error
	for _, k := range []string{keyID, keyPriv, keyAuth} {
		errs = append(errs, d.store.Delete(k))
	}
	return errors.Join(errs...)
}

func (d *Device) subscriptionLocked() *models.Subscription {
	return &models.Subscription{
		Endpoint: d.baseURL + EndpointPath + d.sub.id,
		Keys: models.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(d.sub.priv.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(d.sub.auth),
		},
	}
}

// Decrypt opens a push message delivered for subscription id.
func (d *Device) Decrypt(id string, body []byte) ([]byte, error) {
	d.mu.Lock()
	sub := d.sub
	d.mu.Unlock()
	if sub == nil || sub.id != id {
		return nil, ErrUnknownSubscription
	}
	return decrypt(sub.priv, sub.auth, body)
}

// decrypt handles a single-record aes128gcm body:
// salt(16) | rs(4) | idlen(1) | sender key(idlen) | ciphertext.
func decrypt(priv *ecdh.PrivateKey, auth, body []byte) ([]byte, error) {
	if len(body) < headerLen {
		return nil, ErrMalformed
	}
	salt := body[:16]
	rs := binary.BigEndian.Uint32(body[16:20])
	idlen := int(body[20])
	if idlen != 65 || len(body) < headerLen+idlen {
		return nil, fmt.Errorf("%w: sender key length %d", ErrMalformed, idlen)
	}
	senderRaw := body[headerLen : headerLen+idlen]
	ciphertext := body[headerLen+idlen:]
	if rs < 18 || uint32(len(ciphertext)) > rs {
		return nil, fmt.Errorf("%w: multi-record messages are not supported", ErrMalformed)
	}

	sender, err := ecdh.P256().NewPublicKey(senderRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	secret, err := priv.ECDH(sender)
	if err != nil {
		return nil, err
	}

	info := append([]byte("WebPush: info\x00"), priv.PublicKey().Bytes()...)
	info = append(info, senderRaw...)
	ikm, err := expand(hkdf.Extract(sha256.New, secret, auth), info, 32)
	if err != nil {
		return nil, err
	}
	prk := hkdf.Extract(sha256.New, ikm, salt)
	cek, err := expand(prk, []byte("Content-Encoding: aes128gcm\x00"), 16)
	if err != nil {
		return nil, err
	}
	nonce, err := expand(prk, []byte("Content-Encoding: nonce\x00"), 12)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// last record: data | 0x02 | zero padding
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 || plain[i] != 0x02 {
		return nil, fmt.Errorf("%w: bad padding delimiter", ErrMalformed)
	}
	return plain[:i], nil
}

func expand(prk, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), out); err != nil {
		return nil, err
	}
	return out, nil
}
