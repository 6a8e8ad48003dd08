package shipper

import (
	"time"

	"github.com/google/uuid"

	"github.com/btscan/btscan/pkg/telemetry"
)

// toRequest wraps one flushed batch in a PushRequest with a fresh batch ID so
// the server can tell a resend from a new sweep.
func toRequest(agent string, records []telemetry.Record, now time.Time) *telemetry.PushRequest {
	return &telemetry.PushRequest{
		BatchID: uuid.NewString(),
		Agent:   agent,
		SentAt:  now.UnixMilli(),
		Records: records,
	}
}
