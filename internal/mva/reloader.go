package mva

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-petshop/internal/obs"
)

// Reloader rebuilds the published snapshot from a Source or the shared Redis
// snapshot. A failed rebuild leaves the previous snapshot in place.
type Reloader struct {
	Holder   *Holder
	Source   Source
	Cache    *SnapshotCache
	Notifier *Notifier
	Interval time.Duration
	Logger   zerolog.Logger

	mu sync.Mutex
}

// Reload reads the source, publishes the new table and refreshes the shared cache.
func (r *Reloader) Reload(ctx context.Context) (*Table, error) {
	if r.Holder == nil || r.Source == nil {
		return nil, errors.New("mva: reloader not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	table, err := buildFromSource(ctx, r.Source)
	obs.ObserveMVAReload(r.Source.Name(), table.Len(), err)
	if err != nil {
		return nil, err
	}
	r.Holder.Swap(table)
	if r.Cache != nil {
		if err := r.Cache.Set(ctx, table); err != nil {
			r.Logger.Warn().Err(err).Msg("store mva snapshot in cache")
		}
	}
	r.Logger.Info().Str("source", table.Source()).Int("entries", table.Len()).Msg("mva snapshot published")
	return table, nil
}

// ReloadFromCache publishes the snapshot shared through Redis, falling back to
// the source when the cache is empty or unavailable.
func (r *Reloader) ReloadFromCache(ctx context.Context) (*Table, error) {
	if r.Cache == nil {
		return r.Reload(ctx)
	}
	snap, ok, err := r.Cache.Get(ctx)
	if err != nil {
		r.Logger.Warn().Err(err).Msg("read mva snapshot from cache")
	}
	if err != nil || !ok {
		return r.Reload(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	table, err := NewTable("cache:"+snap.Source, snap.Entries)
	obs.ObserveMVAReload("cache", table.Len(), err)
	if err != nil {
		return nil, err
	}
	r.Holder.Swap(table)
	r.Logger.Info().Str("source", table.Source()).Int("entries", table.Len()).Msg("mva snapshot published")
	return table, nil
}

// Run reloads on every interval tick and whenever a rebuild is announced on the
// notifier channel, until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	var ticks <-chan time.Time
	if r.Interval > 0 {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	var updates <-chan string
	if r.Notifier != nil && r.Notifier.Client != nil {
		sub := r.Notifier.Subscribe(ctx)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		relay := make(chan string)
		go func() {
			defer close(relay)
			for msg := range msgs {
				select {
				case relay <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}()
		updates = relay
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			if _, err := r.Reload(ctx); err != nil {
				r.Logger.Error().Err(err).Msg("periodic mva reload")
			}
		case origin, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if _, err := r.ReloadFromCache(ctx); err != nil {
				r.Logger.Error().Err(err).Str("origin", origin).Msg("mva reload after update")
			}
		}
	}
}

func buildFromSource(ctx context.Context, src Source) (*Table, error) {
	entries, err := src.Entries(ctx)
	if err != nil {
		return nil, err
	}
	table, err := NewTable(src.Name(), entries)
	if err != nil {
		return nil, fmt.Errorf("mva: build table from %s: %w", src.Name(), err)
	}
	return table, nil
}
