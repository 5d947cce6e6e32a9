package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"portal-shell-go/internal/models"
)

const (
	notificationTTL = 30 * 24 * time.Hour // 30 days
	tokenTTL        = 7 * 24 * time.Hour
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidToken = errors.New("invalid token")
)

// NotificationStore handles notification timelines and access tokens (Redis)
type NotificationStore interface {
	AddNotification(ctx context.Context, userID int, n models.Notification) (models.Notification, error)
	ListNotifications(ctx context.Context, userID, limit, offset int) (models.NotificationPage, error)
	UnreadCount(ctx context.Context, userID int) (int, error)
	MarkRead(ctx context.Context, userID int, ids []models.NotificationID) error
	MarkAllRead(ctx context.Context, userID int) error
	PublishPush(ctx context.Context, userID int, payload []byte) error

	CreateToken(ctx context.Context, userID int) (string, error)
	TokenUser(ctx context.Context, token string) (int, error)
	DeleteToken(ctx context.Context, token string) error

	Ping(ctx context.Context) error
}

// AccountStore handles users and push subscriptions (PostgreSQL)
type AccountStore interface {
	CreateUser(ctx context.Context, username, password, role string) (models.User, error)
	GetUser(ctx context.Context, id int) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, id int) error

	SavePushSubscription(ctx context.Context, userID int, sub models.Subscription) error
	DeletePushSubscription(ctx context.Context, userID int, endpoint string) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error
	GetPushSubscriptions(ctx context.Context, userID int) ([]models.PushSubscription, error)
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func notificationKey(id models.NotificationID) string {
	return fmt.Sprintf("notification:%s", id)
}

func timelineKey(userID int) string {
	return fmt.Sprintf("notifications:%d:timeline", userID)
}

func unreadKey(userID int) string {
	return fmt.Sprintf("notifications:%d:unread", userID)
}

func (s *RedisStore) AddNotification(ctx context.Context, userID int, n models.Notification) (models.Notification, error) {
	id, err := s.client.Incr(ctx, "notification:next_id").Result()
	if err != nil {
		return models.Notification{}, err
	}

	n.ID = models.NotificationID(strconv.FormatInt(id, 10))
	n.Read = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return models.Notification{}, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, notificationKey(n.ID), data, notificationTTL)
	// Timeline sorted set, score = creation time
	pipe.ZAdd(ctx, timelineKey(userID), redis.Z{
		Score:  float64(n.CreatedAt.UnixMilli()),
		Member: n.ID.String(),
	})
	pipe.SAdd(ctx, unreadKey(userID), n.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

// ListNotifications returns one page of the user's timeline, newest first.
// Entries whose notification expired are dropped from the timeline.
func (s *RedisStore) ListNotifications(ctx context.Context, userID, limit, offset int) (models.NotificationPage, error) {
	page := models.NotificationPage{Items: []models.Notification{}}

	total, err := s.client.ZCard(ctx, timelineKey(userID)).Result()
	if err != nil {
		return page, err
	}
	ids, err := s.client.ZRevRange(ctx, timelineKey(userID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return page, err
	}

	pipe := s.client.Pipeline()
	gets := make([]*redis.StringCmd, len(ids))
	unread := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		gets[i] = pipe.Get(ctx, notificationKey(models.NotificationID(id)))
		unread[i] = pipe.SIsMember(ctx, unreadKey(userID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return page, err
	}

	for i, id := range ids {
		val, err := gets[i].Result()
		if errors.Is(err, redis.Nil) {
			// Notification expired, remove from timeline
			s.client.ZRem(ctx, timelineKey(userID), id)
			s.client.SRem(ctx, unreadKey(userID), id)
			continue
		} else if err != nil {
			continue
		}

		var n models.Notification
		if err := json.Unmarshal([]byte(val), &n); err != nil {
			continue
		}
		n.Read = !unread[i].Val()
		page.Items = append(page.Items, n)
	}

	page.HasMore = int64(offset+len(ids)) < total
	page.UnreadCount, err = s.UnreadCount(ctx, userID)
	return page, err
}

func (s *RedisStore) UnreadCount(ctx context.Context, userID int) (int, error) {
	n, err := s.client.SCard(ctx, unreadKey(userID)).Result()
	return int(n), err
}

func (s *RedisStore) MarkRead(ctx context.Context, userID int, ids []models.NotificationID) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id.String()
	}
	return s.client.SRem(ctx, unreadKey(userID), members...).Err()
}

func (s *RedisStore) MarkAllRead(ctx context.Context, userID int) error {
	return s.client.Del(ctx, unreadKey(userID)).Err()
}

// PublishPush hands a push payload to the shells subscribed to userID's push
// channel.
func (s *RedisStore) PublishPush(ctx context.Context, userID int, payload []byte) error {
	return s.client.Publish(ctx, models.PushChannel(userID), payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, userID int) *redis.PubSub {
	return s.client.Subscribe(ctx, models.PushChannel(userID))
}

// Token methods

func (s *RedisStore) CreateToken(ctx context.Context, userID int) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, "token:"+token, userID, tokenTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisStore) TokenUser(ctx context.Context, token string) (int, error) {
	id, err := s.client.Get(ctx, "token:"+token).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrInvalidToken
	}
	return id, err
}

func (s *RedisStore) DeleteToken(ctx context.Context, token string) error {
	return s.client.Del(ctx, "token:"+token).Err()
}
