package progress

import "context"

// Sink consumes progress events one at a time, in emission order.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
}

// Emitter records a stage marker. Logger satisfies this interface so the
// pipeline can remain agnostic about where markers end up.
type Emitter interface {
	Log(ctx context.Context, stage Stage, message string) error
}
