package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	// Stream is the stream to read (required).
	Stream string

	// LastID is the starting position: "0" from the beginning, "$" only new
	// entries, or an entry id to resume after. Default "$".
	LastID string

	// Count is the batch size. Default 100.
	Count int64

	// Block is how long one read waits for new entries. Default 5s.
	Block time.Duration

	// RetryInterval is the first backoff after a read error, doubling up to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	Logger *zap.Logger
}

// MessageHandler processes one entry. Errors are logged and the entry skipped.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is one stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]any
}

// StreamConsumer tails a stream, reconnecting with backoff on errors.
type StreamConsumer struct {
	client *Client
	config StreamConsumerConfig
	logger *zap.Logger
}

func NewStreamConsumer(client *Client, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.LastID == "" {
		config.LastID = "$"
	}
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConsumer{client: client, config: config, logger: logger}, nil
}

// Run calls handler for every entry until ctx is cancelled.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	lastID := sc.config.LastID
	retryInterval := sc.config.RetryInterval

	for {
		if err := ctx.Err(); err != nil {
			sc.logger.Info("Stream consumer shutting down", zap.String("stream", sc.config.Stream))
			return err
		}

		streams, err := sc.client.XRead(ctx, sc.config.Stream, lastID, sc.config.Count, sc.config.Block)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))
			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retryInterval = sc.config.RetryInterval

		for _, stream := range streams {
			for _, x := range stream.Messages {
				lastID = x.ID
				msg := Message{ID: x.ID, Stream: stream.Stream, Values: x.Values}
				if err := handler(ctx, msg); err != nil {
					sc.logger.Error("Error processing message",
						zap.String("stream", sc.config.Stream),
						zap.String("id", x.ID),
						zap.Error(err))
				}
			}
		}
	}
}

// Data returns the "data" field of the entry, or nil.
func (m *Message) Data() []byte {
	switch data := m.Values["data"].(type) {
	case string:
		return []byte(data)
	case []byte:
		return data
	}
	return nil
}
