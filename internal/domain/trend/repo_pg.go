package trend

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pacetrack/pacetrack/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG reads series from the observation table and stores snapshots in
// longitudinal_trend.
type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *RepoPG) NumericSeries(ctx context.Context, patientID, variable string, w Window) ([]Point, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT o.observation_time, o.value_numeric
		FROM observation o
		JOIN transmission t ON t.id = o.transmission_id
		WHERE t.patient_id = $1
		  AND o.variable_name = $2
		  AND o.value_numeric IS NOT NULL
		  AND NOT o.error_flag
		  AND ($3::timestamptz IS NULL OR o.observation_time >= $3)
		  AND ($4::timestamptz IS NULL OR o.observation_time <= $4)
		ORDER BY o.observation_time, t.imported_at, t.id, o.sequence_number`,
		patientID, variable, w.Start, w.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *RepoPG) Variables(ctx context.Context, patientID string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT o.variable_name
		FROM observation o
		JOIN transmission t ON t.id = o.transmission_id
		WHERE t.patient_id = $1 AND o.value_numeric IS NOT NULL AND NOT o.error_flag
		ORDER BY o.variable_name`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *RepoPG) Save(ctx context.Context, windowKey string, t *LongitudinalTrend) error {
	times := t.TimePoints
	if times == nil {
		times = []time.Time{}
	}
	values := t.Values
	if values == nil {
		values = []float64{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO longitudinal_trend (patient_id, variable_name, window_key, time_points, trend_values,
			min_value, max_value, mean_value, std_value, start_time, end_time, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (patient_id, variable_name, window_key) DO UPDATE SET
			time_points = EXCLUDED.time_points,
			trend_values = EXCLUDED.trend_values,
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			mean_value = EXCLUDED.mean_value,
			std_value = EXCLUDED.std_value,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			computed_at = EXCLUDED.computed_at`,
		t.PatientID, t.VariableName, windowKey, times, values,
		t.Min, t.Max, t.Mean, t.Std, t.Start, t.End, t.ComputedAt)
	return err
}
