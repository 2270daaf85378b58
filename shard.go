package shepherd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/FlockTeam/Shepherd-Daemon/structs"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// Number of identify attempts before considering a shard not working.
	ShardConnectRetries = 10

	// Buffer of the per-shard task queue. Tasks are handled one at a time
	// in arrival order.
	ShardTaskBuffer = 16
)

// Shard supervises one shard's connection lifecycle. All blocking work
// for a shard runs on its own task queue so events for the same shard are
// handled in arrival order while other shards keep making progress.
type Shard struct {
	ctx    context.Context
	cancel func()

	Logger zerolog.Logger `json:"-"`

	ShardID int32 `json:"shard_id"`

	Shepherd *Shepherd `json:"-"`

	RetriesRemaining *atomic.Int32 `json:"-"`

	statusMu sync.RWMutex
	Status   structs.ShardStatus `json:"status"`

	tasks chan func(ctx context.Context)
}

// NewShard creates a new shard supervisor.
func (sd *Shepherd) NewShard(shardID int32) (sh *Shard) {
	logger := sd.Logger.With().Int32("shardId", shardID).Logger()

	sh = &Shard{
		Logger: logger,

		ShardID: shardID,

		Shepherd: sd,

		RetriesRemaining: atomic.NewInt32(ShardConnectRetries),

		statusMu: sync.RWMutex{},
		Status:   structs.ShardIdle,

		tasks: make(chan func(ctx context.Context), ShardTaskBuffer),
	}

	sh.ctx, sh.cancel = context.WithCancel(sd.ctx)

	return sh
}

// Open starts the shard's task worker.
func (sh *Shard) Open() {
	go func() {
		for {
			select {
			case <-sh.ctx.Done():
				return
			case task := <-sh.tasks:
				task(sh.ctx)
			}
		}
	}()
}

// Close stops the shard's task worker and abandons any suspended work.
func (sh *Shard) Close() {
	sh.cancel()
}

func (sh *Shard) SetStatus(status structs.ShardStatus) {
	sh.statusMu.Lock()
	sh.Status = status
	sh.statusMu.Unlock()

	shepherdShardStatus.WithLabelValues(strconv.Itoa(int(sh.ShardID))).Set(float64(status))

	if producer := sh.Shepherd.Producer; producer != nil {
		go func() {
			err := producer.PublishShardStatus(sh.ctx, sh.ShardID, status)
			if err != nil && !errors.Is(err, context.Canceled) {
				sh.Logger.Warn().Err(err).Msg("Failed to publish shard status")
			}
		}()
	}
}

func (sh *Shard) GetStatus() (status structs.ShardStatus) {
	sh.statusMu.RLock()
	defer sh.statusMu.RUnlock()

	return sh.Status
}

// enqueue schedules work on the shard's task queue. It never blocks the
// connection event loop: a full queue means the shard is already backed
// up recovering, so the task is dropped instead.
func (sh *Shard) enqueue(task func(ctx context.Context)) {
	select {
	case sh.tasks <- task:
	case <-sh.ctx.Done():
	default:
		sh.Logger.Warn().Msg("Shard task queue is full. Dropping task")
	}
}

// Launch performs the shard's first connection: admission, then the
// identify handshake. Recoverable handshake errors are retried against
// the shard's retry budget; admission waits are unbounded and do not
// consume it.
func (sh *Shard) Launch(ctx context.Context, initial bool) error {
	sh.Logger.Info().Bool("initial", initial).Msg("Launching shard")

	for {
		err := sh.connect(ctx, initial)
		if err == nil {
			sh.SetStatus(structs.ShardConnected)

			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var intentsErr *PrivilegedIntentsRequiredError
		if errors.As(err, &intentsErr) {
			return err
		}

		retriesRemaining := sh.RetriesRemaining.Sub(1)
		if retriesRemaining <= 0 {
			sh.Logger.Error().Err(err).Msg("Failed to connect shard. Cannot continue")

			return fmt.Errorf("failed to launch shard %d: %w", sh.ShardID, err)
		}

		sh.Logger.Warn().Err(err).
			Int32("retriesRemaining", retriesRemaining).
			Msg("Failed to connect shard. Retrying")
	}
}

func (sh *Shard) connect(ctx context.Context, initial bool) error {
	sh.SetStatus(structs.ShardAwaitingAdmission)

	err := sh.Shepherd.Gate.Request(ctx, sh.ShardID, false)
	if err != nil {
		return fmt.Errorf("failed to request admission: %w", err)
	}

	sh.SetStatus(structs.ShardIdentifying)
	shepherdIdentifyCount.WithLabelValues("false").Inc()

	err = sh.Shepherd.Gateway.LaunchShard(ctx, sh.ShardID, initial)

	// The ticket is released whether or not the handshake succeeded.
	sh.release(ctx)

	if err != nil {
		return fmt.Errorf("failed to identify: %w", err)
	}

	return nil
}

// Reidentify re-runs the identify handshake after the session was
// invalidated. Reidentifies jump the admission queue so an already
// established shard recovers ahead of cold starts.
func (sh *Shard) Reidentify(ctx context.Context, reason error) error {
	sh.SetStatus(structs.ShardAwaitingAdmission)

	err := sh.Shepherd.Gate.Request(ctx, sh.ShardID, true)
	if err != nil {
		return fmt.Errorf("failed to request admission: %w", err)
	}

	sh.SetStatus(structs.ShardIdentifying)
	shepherdIdentifyCount.WithLabelValues("true").Inc()

	err = sh.Shepherd.Gateway.Reidentify(ctx, sh.ShardID, reason)

	sh.release(ctx)

	if err != nil {
		return fmt.Errorf("failed to reidentify: %w", err)
	}

	sh.SetStatus(structs.ShardConnected)

	return nil
}

// Resume reattaches to the shard's existing session. Resumes do not
// consume the fleet's identify budget and bypass the admission gate
// entirely.
func (sh *Shard) Resume(ctx context.Context, reason error) error {
	sh.SetStatus(structs.ShardResuming)

	err := sh.Shepherd.Gateway.Reidentify(ctx, sh.ShardID, reason)
	if err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}

	sh.SetStatus(structs.ShardConnected)

	return nil
}

// Reconnect re-establishes the shard's gateway connection through the
// same admission path as a cold start.
func (sh *Shard) Reconnect(ctx context.Context) error {
	sh.SetStatus(structs.ShardAwaitingAdmission)

	err := sh.Shepherd.Gate.Request(ctx, sh.ShardID, false)
	if err != nil {
		return fmt.Errorf("failed to request admission: %w", err)
	}

	sh.SetStatus(structs.ShardIdentifying)
	shepherdIdentifyCount.WithLabelValues("false").Inc()

	err = sh.Shepherd.Gateway.Reconnect(ctx, sh.ShardID)

	sh.release(ctx)

	if err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}

	sh.SetStatus(structs.ShardConnected)

	return nil
}

func (sh *Shard) release(ctx context.Context) {
	err := sh.Shepherd.Gate.Release(ctx, sh.ShardID)
	if err != nil {
		sh.Logger.Warn().Err(err).Msg("Failed to release admission")
	}
}

// absorb keeps recoverable errors at the supervisor. Only fatal
// conditions are resubmitted so the connection event loop can stop the
// process.
func (sh *Shard) absorb(err error, operation string) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	var intentsErr *PrivilegedIntentsRequiredError
	if errors.As(err, &intentsErr) {
		sh.Shepherd.Submit(LifecycleEvent{
			Type:    EventTypeTerminate,
			ShardID: sh.ShardID,
			Err:     err,
		})

		return
	}

	sh.SetStatus(structs.ShardErroring)

	sh.Logger.Error().Err(err).Str("operation", operation).Msg("Shard operation failed")
}
