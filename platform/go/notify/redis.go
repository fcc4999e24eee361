package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "arcims:connector-nudge:"

// RedisBus publishes nudges over Redis pub/sub so that a webhook received by one instance
// reaches pollers running on every instance. Delivery to local subscribers goes through a LocalBus.
type RedisBus struct {
	client redis.UniversalClient
	local  *LocalBus
	logger *zap.Logger
}

// NewRedisClient parses a redis:// URL, falling back to treating the value as host:port.
func NewRedisClient(redisURL string) *redis.Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	return redis.NewClient(opt)
}

func NewRedisBus(client redis.UniversalClient, logger *zap.Logger) *RedisBus {
	if client == nil {
		panic("notify: redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, local: NewLocalBus(), logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, n Nudge) error {
	key := normalize(n.ConnectorID)
	if key == "" {
		return errors.New("connector id is required")
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal nudge: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+key, payload).Err(); err != nil {
		return fmt.Errorf("publish nudge: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(connectorID string) (<-chan Nudge, func()) {
	return b.local.Subscribe(connectorID)
}

// Run relays Redis messages to local subscribers until ctx is done.
// The subscription is confirmed before Run starts relaying so a returned error means nothing is listening.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe nudges: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n Nudge
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				b.logger.Warn("drop malformed nudge", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if n.ConnectorID == "" {
				n.ConnectorID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			b.local.deliver(n)
		}
	}
}

// Ping reports whether Redis is reachable; used by the readiness probe.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

var _ Bus = (*RedisBus)(nil)
