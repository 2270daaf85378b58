package structs

// ShardStatus represents the shard status
type ShardStatus int32

// Status Codes for Shard
const (
	ShardIdle              ShardStatus = iota // Represents a Shard that has been created but not launched yet
	ShardAwaitingAdmission                    // Represents a Shard waiting for the coordinator to admit it
	ShardIdentifying                          // Represents a Shard performing the identify handshake
	ShardConnected                            // Represents a Shard with an established gateway session
	ShardResuming                             // Represents a Shard reattaching to an existing session
	ShardClosing                              // Represents a Shard in the process of closing
	ShardTerminated                           // Represents a Shard that has been closed and will not be re-admitted
	ShardErroring                             // Represents a Shard whose last lifecycle operation failed
)

func (ss ShardStatus) String() string {
	switch ss {
	case ShardIdle:
		return "Idle"
	case ShardAwaitingAdmission:
		return "AwaitingAdmission"
	case ShardIdentifying:
		return "Identifying"
	case ShardConnected:
		return "Connected"
	case ShardResuming:
		return "Resuming"
	case ShardClosing:
		return "Closing"
	case ShardTerminated:
		return "Terminated"
	case ShardErroring:
		return "Erroring"
	}

	return "Unknown"
}
