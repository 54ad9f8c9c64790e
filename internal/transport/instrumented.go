package transport

import (
	"context"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/telemetry"
)

// Instrumented wraps a Transport with telemetry.
type Instrumented struct {
	transport download.Transport
	telemetry *telemetry.Telemetry
	kind      string
}

// NewInstrumented creates a new instrumented transport.
func NewInstrumented(t download.Transport, tel *telemetry.Telemetry, kind string) *Instrumented {
	return &Instrumented{
		transport: t,
		telemetry: tel,
		kind:      kind,
	}
}

// Fetch fetches a file with telemetry.
func (i *Instrumented) Fetch(ctx context.Context, req download.FetchRequest) (int64, error) {
	var written int64

	var err error

	instrumentedErr := i.telemetry.InstrumentClientOperation(ctx, i.kind, "fetch", func(ctx context.Context) error {
		written, err = i.transport.Fetch(ctx, req)

		return err
	})

	if instrumentedErr != nil {
		return written, instrumentedErr
	}

	i.telemetry.RecordBytesDownloaded(written - req.Offset)

	return written, nil
}

// SupportsResume delegates to the wrapped transport.
func (i *Instrumented) SupportsResume() bool {
	return i.transport.SupportsResume()
}
