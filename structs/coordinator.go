package structs

// CoordinatorOp represents the opcode of a coordinator frame.
type CoordinatorOp uint32

// Opcodes for the coordinator wire protocol. Each frame is an 8 byte
// header (little endian opcode then body length) followed by a JSON body.
const (
	CoordinatorOpAskToConnect CoordinatorOp = iota + 1
	CoordinatorOpGranted
	CoordinatorOpDoneConnecting
)

func (op CoordinatorOp) String() string {
	switch op {
	case CoordinatorOpAskToConnect:
		return "ASK_TO_CONNECT"
	case CoordinatorOpGranted:
		return "GRANTED"
	case CoordinatorOpDoneConnecting:
		return "DONE_CONNECTING"
	}

	return "UNKNOWN"
}

// AskToConnect requests an identify slot for a shard. Priority requests
// are served ahead of pending non-priority requests.
type AskToConnect struct {
	ShardID  int32 `json:"shard_id"`
	Priority bool  `json:"priority"`
}

// Granted is sent by the coordinator once the shard may identify.
type Granted struct {
	ShardID int32 `json:"shard_id"`
}

// DoneConnecting releases the identify slot held by a shard.
type DoneConnecting struct {
	ShardID int32 `json:"shard_id"`
}
