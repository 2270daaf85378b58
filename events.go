package shepherd

import "context"

// EventType represents the type of a lifecycle event.
type EventType int32

// Lifecycle events emitted by the gateway client.
const (
	EventTypeClose      EventType = iota // Shard websocket closed with a close code
	EventTypeIdentify                    // Shard requires a fresh identify
	EventTypeResume                      // Shard can reattach to its existing session
	EventTypeReconnect                   // Shard should reconnect to the gateway
	EventTypeTerminate                   // Fatal error, the whole process must stop
	EventTypeCleanClose                  // Clean shutdown requested
)

func (et EventType) String() string {
	switch et {
	case EventTypeClose:
		return "CLOSE"
	case EventTypeIdentify:
		return "IDENTIFY"
	case EventTypeResume:
		return "RESUME"
	case EventTypeReconnect:
		return "RECONNECT"
	case EventTypeTerminate:
		return "TERMINATE"
	case EventTypeCleanClose:
		return "CLEAN_CLOSE"
	}

	return "UNKNOWN"
}

// Close codes with special handling.
const (
	CloseCodeNormal            = 1000
	CloseCodePrivilegedIntents = 4014
)

// LifecycleEvent is a single lifecycle notification for a shard. Events
// are submitted by the gateway client and consumed one at a time by the
// connection event loop.
type LifecycleEvent struct {
	Type    EventType
	ShardID int32
	Code    int32
	Err     error
}

// GatewayClient is the underlying gateway connection library. It performs
// the actual handshakes and emits lifecycle events through
// Shepherd.Submit. Implementations are expected to be safe for concurrent
// use across shards.
type GatewayClient interface {
	// LaunchShard performs the initial identify handshake for a shard.
	LaunchShard(ctx context.Context, shardID int32, initial bool) error

	// Reidentify re-runs the identify handshake for a shard after the
	// reason error invalidated its session.
	Reidentify(ctx context.Context, shardID int32, reason error) error

	// Reconnect re-establishes the gateway connection for a shard.
	Reconnect(ctx context.Context, shardID int32) error

	Close() error
	IsClosed() bool
}
