package session

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusTimedOut  Status = "TimedOut"
	StatusKilled    Status = "Killed"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusKilled:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }
