package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline state a progress marker belongs to.
type Stage string

// Pipeline stages in execution order.
const (
	StageInit      Stage = "INIT"
	StageExtract   Stage = "EXTRACT"
	StageTransform Stage = "TRANSFORM"
	StageWriteFile Stage = "WRITE_FILE"
	StageConnect   Stage = "CONNECT"
	StageWriteDB   Stage = "WRITE_DB"
	StageQuery     Stage = "QUERY"
	StageClose     Stage = "CLOSE"
)

// Event is a single progress marker.
type Event struct {
	// RunID identifies the pipeline run that emitted the marker.
	RunID uuid.UUID
	// TS is the time reported by the logger's clock.
	TS time.Time
	// Stage is the pipeline state the marker belongs to.
	Stage Stage
	// Message is the human-readable marker written to the progress log.
	Message string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Message == "" {
		return errors.New("message is required")
	}
	switch e.Stage {
	case StageInit, StageExtract, StageTransform, StageWriteFile,
		StageConnect, StageWriteDB, StageQuery, StageClose:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
