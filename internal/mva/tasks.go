package mva

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-petshop/internal/lock"
	"github.com/noah-isme/backend-petshop/internal/obs"
)

const (
	// TypeRebuild is the asynq task type that rebuilds the shared MVA snapshot.
	TypeRebuild = "mva:rebuild"
	// QueueName is the asynq queue rebuild tasks are sent to.
	QueueName = "mva"
)

// RebuildPayload describes why a rebuild was requested.
type RebuildPayload struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NewRebuildTask builds a rebuild task for reason.
func NewRebuildTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(RebuildPayload{Reason: reason, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRebuild, data, asynq.Queue(QueueName), asynq.MaxRetry(5)), nil
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler requests snapshot rebuilds. Requests are bucketed into windows:
// every request in a window shares one task ID and the task runs when the
// window closes, so it reads the store after the whole burst was written.
type Scheduler struct {
	Client TaskEnqueuer
	Window time.Duration
	Now    func() time.Time
}

// Schedule enqueues the rebuild task for the current window. A task already
// scheduled for the window is not an error.
func (s Scheduler) Schedule(ctx context.Context, reason string) error {
	if s.Client == nil {
		return nil
	}
	task, err := NewRebuildTask(reason)
	if err != nil {
		return err
	}
	window := s.Window
	if window <= 0 {
		window = 5 * time.Second
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	closes := now().Truncate(window).Add(window)
	id := fmt.Sprintf("%s:%d", TypeRebuild, closes.Unix())
	if _, err := s.Client.EnqueueContext(ctx, task, asynq.TaskID(id), asynq.ProcessAt(closes)); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("mva: enqueue rebuild: %w", err)
	}
	return nil
}

// Rebuilder processes rebuild tasks: it reads the configuration store, validates
// the resulting table, stores it in the shared cache and announces it.
type Rebuilder struct {
	Source   Source
	Cache    *SnapshotCache
	Notifier Notifier
	Locker   lock.Locker
	LockTTL  time.Duration
	Logger   zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (b Rebuilder) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload RebuildPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("mva: decode rebuild payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	return b.Locker.WithLock(ctx, "mva-rebuild", b.LockTTL, func(ctx context.Context) error {
		return b.rebuild(ctx, payload)
	})
}

func (b Rebuilder) rebuild(ctx context.Context, payload RebuildPayload) error {
	if b.Source == nil {
		return errors.New("mva: rebuilder source not configured")
	}
	table, err := buildFromSource(ctx, b.Source)
	obs.ObserveMVAReload(b.Source.Name(), table.Len(), err)
	if err != nil {
		var entryErr *EntryError
		if errors.As(err, &entryErr) {
			// retrying cannot fix invalid configuration
			b.Logger.Error().Err(err).Msg("mva configuration rejected")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if err := b.Cache.Set(ctx, table); err != nil {
		return fmt.Errorf("mva: store snapshot: %w", err)
	}
	if err := b.Notifier.Publish(ctx, table.Source()); err != nil {
		return fmt.Errorf("mva: publish snapshot: %w", err)
	}
	b.Logger.Info().
		Str("reason", payload.Reason).
		Int("entries", table.Len()).
		Msg("mva snapshot rebuilt")
	return nil
}
