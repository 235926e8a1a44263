package controller

// BroadcastSink is the external multi-client broadcast layer: the core
// only broadcasts to all clients; tracking which clients are connected is
// the sink's own concern. It is reached by a single `emit(event, payload)` call.
type BroadcastSink interface {
	Broadcast(event string, payload any)
}

// NoopBroadcastSink discards every event; useful for tests and for
// running the controller headless.
type NoopBroadcastSink struct{}

func (NoopBroadcastSink) Broadcast(string, any) {}

// Broadcast event names, including the TinyG: prefixed
// backward-compatibility duplicates for settings/state.
const (
	EventControllerType      = "controller:type"
	EventControllerSettings  = "controller:settings"
	EventControllerState     = "controller:state"
	EventControllerOverrides = "controller:overrides"
	EventTinyGSettings       = "TinyG:settings"
	EventTinyGState          = "TinyG:state"
	EventConnectionOpen      = "connection:open"
	EventConnectionClose     = "connection:close"
	EventConnectionError     = "connection:error"
	EventConnectionRead      = "connection:read"
	EventConnectionWrite     = "connection:write"
	EventConnectionChange    = "connection:change"
	EventFeederStatus        = "feeder:status"
	EventSenderStatus        = "sender:status"
	EventSenderLoad          = "sender:load"
	EventSenderUnload        = "sender:unload"
	EventWorkflowState       = "workflow:state"
)
