package device

// State is the device's position in the tap-capture cycle. Idle and
// Initialize are the only states allowed to persist; every other state is
// bounded by the watchdog timeout.
type State int

const (
	StateInitialize State = iota
	StateIdle
	StateProcessCard
	StateUploadData
	StateQueueData
	StateSyncQueue
)

func (s State) String() string {
	switch s {
	case StateInitialize:
		return "initialize"
	case StateIdle:
		return "idle"
	case StateProcessCard:
		return "process_card"
	case StateUploadData:
		return "upload_data"
	case StateQueueData:
		return "queue_data"
	case StateSyncQueue:
		return "sync_queue"
	default:
		return "unknown"
	}
}

// mayPersist reports whether a state is exempt from the watchdog.
func (s State) mayPersist() bool {
	return s == StateIdle || s == StateInitialize
}
