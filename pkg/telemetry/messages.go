package telemetry

// Record is one path/value fact reported by the agent.
type Record struct {
	Path  string `cbor:"p" json:"path"`
	Value Value  `cbor:"v" json:"value"`
}

// PushRequest carries every record buffered between two flushes of one agent.
type PushRequest struct {
	// BatchID is unique per flush; the server logs it and uses it as the
	// history batch key.
	BatchID string `cbor:"id"`

	// Agent identifies the sending agent (hostname unless configured).
	Agent string `cbor:"agent"`

	// SentAt is the unix timestamp in milliseconds at which the batch left the agent.
	SentAt int64 `cbor:"ts"`

	Records []Record `cbor:"r"`
}

// PushResponse acknowledges a PushRequest.
type PushResponse struct {
	Ok       bool   `cbor:"ok"`
	Accepted int    `cbor:"n"`
	Message  string `cbor:"msg,omitempty"`
}
