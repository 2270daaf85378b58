package shepherd

import (
	"context"
	"fmt"
	"time"

	"github.com/WelcomerTeam/RealRock/bucketstore"
)

var (
	StandardIdentifyLimit = 5 * time.Second
	IdentifyRateLimit     = StandardIdentifyLimit + (time.Millisecond * 500)
)

// AdmissionGate controls when a shard may perform the rate limited
// identify handshake. Request suspends the calling shard until the shard
// is admitted; Release must be called once the identify attempt finishes,
// success or failure, so the identify budget is never leaked.
type AdmissionGate interface {
	Request(ctx context.Context, shardID int32, priority bool) error
	Release(ctx context.Context, shardID int32) error
}

// PassthroughGate admits every shard immediately. It is used when fleet
// coordination is disabled so the rest of the orchestrator keeps a single
// code path for both modes.
type PassthroughGate struct{}

func NewPassthroughGate() *PassthroughGate {
	return &PassthroughGate{}
}

func (g *PassthroughGate) Request(_ context.Context, _ int32, _ bool) error {
	return nil
}

func (g *PassthroughGate) Release(_ context.Context, _ int32) error {
	return nil
}

// BucketGate rate limits identifies with in-memory buckets keyed by
// shard_id modulo max concurrency. This works for single process
// deployments that do not run a coordinator but still need identify
// pacing.
type BucketGate struct {
	bucketStore    *bucketstore.BucketStore
	maxConcurrency int32
}

func NewBucketGate(maxConcurrency int32) *BucketGate {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	return &BucketGate{
		bucketStore:    bucketstore.NewBucketStore(),
		maxConcurrency: maxConcurrency,
	}
}

func (g *BucketGate) Request(_ context.Context, shardID int32, _ bool) error {
	bucketName := fmt.Sprintf("identify:%d", shardID%g.maxConcurrency)

	g.bucketStore.CreateBucket(bucketName, 1, IdentifyRateLimit)

	err := g.bucketStore.WaitForBucket(bucketName)
	if err != nil {
		return fmt.Errorf("failed to wait for bucket: %w", err)
	}

	return nil
}

func (g *BucketGate) Release(_ context.Context, _ int32) error {
	return nil
}
