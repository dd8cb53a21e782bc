package gateway

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Dummy returns a synthetic identifier without reaching any telephony
// infrastructure. Used for testing and dry runs.
type Dummy struct {
	log *slog.Logger

	// NewUUID is injectable for deterministic tests.
	NewUUID func() string
}

func NewDummy(log *slog.Logger) *Dummy {
	if log == nil {
		log = slog.Default()
	}
	return &Dummy{log: log, NewUUID: uuid.NewString}
}

func (d *Dummy) Name() string { return "dummy" }

func (d *Dummy) Dispatch(ctx context.Context, req DialRequest) (string, error) {
	id := d.NewUUID()
	d.log.Info("dummy dispatch",
		"callrequest_id", req.CallRequestID,
		"phone_number", req.PhoneNumber,
		"request_uuid", id)
	return id, nil
}
