package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// Event is one job progress notification. Clients that miss events lose
// nothing durable; persisted job and task status stay the source of truth.
type Event struct {
	JobID    string `json:"job_id"`
	JobType  string `json:"job_type"`
	EntityID string `json:"entity_id,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// Publisher fans job progress out to interested clients. Publishing is
// fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, ownerUserID uuid.UUID, event Event)
	Close() error
}

// NewFromEnv returns a Redis-backed publisher when REDIS_ADDR is set and a
// no-op publisher otherwise, so the rest of the system never branches on
// Redis availability.
func NewFromEnv(log *logger.Logger) Publisher {
	addr := envutil.Str("REDIS_ADDR", "")
	if addr == "" {
		log.Info("progress bus disabled, no redis address configured")
		return NoopPublisher{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     envutil.Str("REDIS_PASSWORD", ""),
		DB:           envutil.Int("REDIS_DB", 0),
		DialTimeout:  3 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &redisPublisher{
		log:    log.With("component", "ProgressBus"),
		client: client,
	}
}

type redisPublisher struct {
	log    *logger.Logger
	client *redis.Client
}

func (p *redisPublisher) Publish(ctx context.Context, ownerUserID uuid.UUID, event Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("encode progress event", "error", err.Error())
		return
	}
	channel := fmt.Sprintf("planforge:jobs:%s", ownerUserID)
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		p.log.Warn("publish progress event", "channel", channel, "error", err.Error())
	}
}

func (p *redisPublisher) Close() error { return p.client.Close() }

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, uuid.UUID, Event) {}

func (NoopPublisher) Close() error { return nil }
