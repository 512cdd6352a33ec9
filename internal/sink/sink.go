// Package sink forwards terminal scan records to downstream consumers.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MeKo-Tech/idscan/internal/extract"
)

// DefaultChannel is the Redis channel records are published on.
const DefaultChannel = "idscan:records"

// Sink receives each terminal record once.
type Sink interface {
	Publish(ctx context.Context, sessionID string, rec extract.Record) error
	Close() error
}

// Envelope is the published message.
type Envelope struct {
	SessionID   string         `json:"session_id"`
	Record      extract.Record `json:"record"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// Nop discards records.
type Nop struct{}

func (Nop) Publish(context.Context, string, extract.Record) error { return nil }
func (Nop) Close() error { return nil }

// publisher is the subset of *redis.Client the sink uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Redis publishes records as JSON envelopes on a pub/sub channel.
type Redis struct {
	client  publisher
	channel string
	logger  *slog.Logger
	now     func() time.Time
}

// Config configures the Redis sink. An empty URL disables it.
type Config struct {
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url" json:"redis_url"`
	Channel  string `mapstructure:"channel" yaml:"channel" json:"channel"`

	// IncludeRawText keeps the OCR text on published records.
	IncludeRawText bool `mapstructure:"include_raw_text" yaml:"include_raw_text" json:"include_raw_text"`
}

// New returns a Nop sink when cfg.RedisURL is empty and a connected Redis
// sink otherwise.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
	if cfg.RedisURL == "" {
		return Nop{}, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s := newRedis(client, cfg.Channel, logger)
	if !cfg.IncludeRawText {
		return stripRaw{s}, nil
	}
	return s, nil
}

func newRedis(client publisher, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: channel, logger: logger, now: time.Now}
}

// Channel returns the pub/sub channel name.
func (r *Redis) Channel() string { return r.channel }

func (r *Redis) Publish(ctx context.Context, sessionID string, rec extract.Record) error {
	data, err := json.Marshal(Envelope{SessionID: sessionID, Record: rec, ExtractedAt: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	receivers, err := r.client.Publish(ctx, r.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish record to %s: %w", r.channel, err)
	}
	r.logger.Debug("Published record", "session_id", sessionID, "channel", r.channel, "receivers", receivers)
	return nil
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// stripRaw drops the OCR text before forwarding.
type stripRaw struct{ Sink }

func (s stripRaw) Publish(ctx context.Context, sessionID string, rec extract.Record) error {
	rec.RawText = ""
	return s.Sink.Publish(ctx, sessionID, rec)
}
