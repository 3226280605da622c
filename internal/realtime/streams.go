package realtime

// Named realtime streams of the gate feed.
const (
	// StreamAccessEvents carries every ledger row appended for the organization.
	StreamAccessEvents = "access.events"
	// StreamAccessAlerts carries only rejected scans (anything but VALID).
	StreamAccessAlerts = "access.alerts"
)

// EventAccessRecorded is the event name of ledger messages.
const EventAccessRecorded = "access.recorded"

// DefaultStreams are subscribed when a client does not ask for specific streams.
var DefaultStreams = []string{StreamAccessEvents}
