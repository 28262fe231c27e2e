package models

// Session carries the identifiers that are stable across the turns of one
// conversation, plus the telemetry correlation IDs for the current trace.
type Session struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"` // vendor-assigned
	TraceID        string `json:"trace_id"`                  // 128-bit hex
	RootSpanID     string `json:"root_span_id"`              // 64-bit hex
}
