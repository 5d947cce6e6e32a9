package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal-shell-go/internal/models"
)

// PushChannel is the Redis channel carrying userID's pushes.
func PushChannel(userID int) string {
	return models.PushChannel(userID)
}

// ConsumePushes handles every payload published on ch until ctx is done or
// the channel closes.
func (r *Runtime) ConsumePushes(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Push(ctx, []byte(msg.Payload)); err != nil {
				r.logger.Error("push from channel failed", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}
	}
}
