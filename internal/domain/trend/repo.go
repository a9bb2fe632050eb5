package trend

import "context"

// ObservationSource reads the numeric observations trends are built from.
// NumericSeries returns points ordered by observation time, then by
// transmission import order, then by sequence within the message.
type ObservationSource interface {
	NumericSeries(ctx context.Context, patientID, variable string, w Window) ([]Point, error)
	Variables(ctx context.Context, patientID string) ([]string, error)
}

// SnapshotStore persists the latest computed trend per window.
type SnapshotStore interface {
	Save(ctx context.Context, windowKey string, t *LongitudinalTrend) error
}
