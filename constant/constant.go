package constant

type SessionStatus string

const (
	SessionStatusConnecting SessionStatus = "connecting"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusInactive   SessionStatus = "inactive"
	SessionStatusError      SessionStatus = "error"
)

// Live reports whether the status still counts against the owner's concurrency cap.
func (s SessionStatus) Live() bool {
	return s == SessionStatusConnecting || s == SessionStatusActive
}

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusInactive || s == SessionStatusError
}

type Protocol string

const (
	ProtocolRTMP Protocol = "rtmp"
)

type EventType string

const (
	EventStreamStarted EventType = "stream-started"
	EventStreamEnded   EventType = "stream-ended"
)

func (e EventType) RoutingKey() string {
	switch e {
	case EventStreamStarted:
		return "stream.started"
	case EventStreamEnded:
		return "stream.ended"
	}
	return "stream.unknown"
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
