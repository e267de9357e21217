package stream

import "time"

type Status int

const (
	NotInitialized Status = iota
	Connecting
	Connected
	Closing
	Closed
	NeedsRestart
	GivenUp
	SystemError
)

var statusNames = map[Status]string{
	NotInitialized: "NOT_INITIALIZED",
	Connecting:     "CONNECTING",
	Connected:      "CONNECTED",
	Closing:        "CLOSING",
	Closed:         "CLOSED",
	NeedsRestart:   "NEEDS_RESTART",
	GivenUp:        "GIVEN_UP",
	SystemError:    "SYSTEM_ERROR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// restartable reports whether RestartIfRequired may act on this status.
func (s Status) restartable() bool {
	switch s {
	case NotInitialized, Closing, Connected, Connecting, GivenUp:
		return false
	}
	return true
}

type StatusChange struct {
	Chain string
	From  Status
	To    Status
	At    time.Time
}
