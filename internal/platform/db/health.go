package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Check is an extra dependency probe reported next to the database, such
// as the trend cache.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// HealthHandler reports database reachability, pool statistics and the
// outcome of each extra check. Any failure answers 503.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return healthHandler(pool.Ping, func() *PoolStats { return GetPoolStats(pool) }, checks)
}

func healthHandler(ping func(context.Context) error, stats func() *PoolStats, checks []Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"status": "healthy"}
		status := http.StatusOK

		st := stats()
		if err := ping(ctx); err != nil {
			st.Healthy = false
			body["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		body["pool"] = st

		deps := make(map[string]string, len(checks))
		for _, chk := range checks {
			if err := chk.Fn(ctx); err != nil {
				deps[chk.Name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[chk.Name] = "ok"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}

		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}
