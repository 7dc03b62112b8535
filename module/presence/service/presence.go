package service

import (
	"context"
	"strconv"
	"time"

	"chatwave/global"
	"chatwave/logger"
	"chatwave/module/presence/model"

	"go.uber.org/zap"
)

// Cache is the TTL-bounded fast path (Redis in production).
type Cache interface {
	Set(ctx context.Context, userID int64, at time.Time) error
	Get(ctx context.Context, ids []int64) (map[int64]time.Time, error)
	Snapshot(ctx context.Context) (map[int64]time.Time, error)
}

// Durable is the users.last_online column.
type Durable interface {
	LastOnline(ctx context.Context, ids []int64) (map[int64]time.Time, error)
	// SaveLastOnline writes every pair in one statement, all or nothing.
	SaveLastOnline(ctx context.Context, seen map[int64]time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type Service struct {
	cache   Cache
	durable Durable
	pub     Publisher
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, tests use a fixed clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService pub may be nil, then RecordSeen does not announce anything.
func NewService(cache Cache, durable Durable, pub Publisher, opts ...Option) *Service {
	s := &Service{cache: cache, durable: durable, pub: pub, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RecordSeen stamps the user as seen now. Only the cache is written; the
// announce on user:last_online_events is best effort.
func (s *Service) RecordSeen(ctx context.Context, userID int64) error {
	if err := s.cache.Set(ctx, userID, s.now()); err != nil {
		return err
	}
	if s.pub != nil {
		if err := s.pub.Publish(ctx, global.TopicLastOnline, []byte(strconv.FormatInt(userID, 10))); err != nil {
			logger.Warn("announce last_online failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// ReadSeen returns one entry per requested id in request order. The cache is
// asked first; only misses go to durable storage, in one query.
func (s *Service) ReadSeen(ctx context.Context, ids []int64) ([]model.Seen, error) {
	out := make([]model.Seen, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cached, err := s.cache.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	var misses []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := cached[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		misses = append(misses, id)
	}

	var durable map[int64]time.Time
	if len(misses) > 0 {
		if durable, err = s.durable.LastOnline(ctx, misses); err != nil {
			return nil, err
		}
	}

	for i, id := range ids {
		out[i] = model.Seen{UserID: id}
		if t, ok := cached[id]; ok {
			t := t
			out[i].LastSeen, out[i].Source = &t, model.SourceCache
		} else if t, ok := durable[id]; ok {
			t := t
			out[i].LastSeen, out[i].Source = &t, model.SourceDurable
		}
	}
	return out, nil
}
