package dispatch

import (
	"context"

	"github.com/mattjoyce/skillrun/internal/history"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/skillrun/internal/dispatch RunRecorder

// RunRecorder persists one record per dispatch.
type RunRecorder interface {
	Record(ctx context.Context, rec history.Record) error
}
