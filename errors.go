package shepherd

import (
	"errors"
	"fmt"
)

// ErrCoordinatorUnavailable is returned when a connection to the
// coordinator cannot be established. Callers retry after a delay rather
// than failing, as transient coordinator restarts are expected.
var ErrCoordinatorUnavailable = errors.New("coordinator is unavailable")

// ErrAdmissionInFlight is returned when a shard already has an
// outstanding admission request.
var ErrAdmissionInFlight = errors.New("shard already has an admission request in flight")

// ErrFrameTooLarge is returned when a coordinator frame advertises a
// body larger than the accepted maximum.
var ErrFrameTooLarge = errors.New("coordinator frame exceeds maximum size")

var (
	ErrMissingShards = errors.New("no shard ids to launch")
	ErrUnknownShard  = errors.New("no shard with this id exists")
)

var (
	ErrConfigurationValidateShardCount = errors.New("configuration missing valid shard count")
	ErrConfigurationValidateProducer   = errors.New("configuration missing producer address")
)

// PrivilegedIntentsRequiredError indicates the gateway rejected a shard
// because the bot requests privileged intents that are not enabled. This
// is a permanent configuration problem and terminates the process.
type PrivilegedIntentsRequiredError struct {
	ShardID int32
}

func (e *PrivilegedIntentsRequiredError) Error() string {
	return fmt.Sprintf("shard %d requires privileged intents that are not enabled", e.ShardID)
}
