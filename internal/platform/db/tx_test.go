package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
)

// fakeTx satisfies pgx.Tx for context plumbing tests only.
type fakeTx struct{ pgx.Tx }

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil conn from empty context")
	}
}

func TestConnFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if conn := ConnFromContext(ctx); conn != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if !errors.Is(err, ErrNoConn) {
		t.Fatalf("expected ErrNoConn, got %v", err)
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestPoolTransactor_ReusesContextTx(t *testing.T) {
	// A tx already in context short-circuits without touching the pool.
	ctx := context.WithValue(context.Background(), DBTxKey, fakeTx{})
	called := false
	err := (&PoolTransactor{}).InTx(ctx, func(ctx context.Context) error {
		called = true
		if TxFromContext(ctx) == nil {
			t.Error("expected tx to stay in context")
		}
		return nil
	})
	if err != nil || !called {
		t.Errorf("expected fn to run, got called=%v err=%v", called, err)
	}
}

func TestHealthReport(t *testing.T) {
	e := echo.New()

	okCheck := Check{Name: "cache", Fn: func(context.Context) error { return nil }}
	badCheck := Check{Name: "cache", Fn: func(context.Context) error { return errors.New("down") }}

	tests := []struct {
		name   string
		ping   error
		checks []Check
		status int
	}{
		{"healthy", nil, []Check{okCheck}, http.StatusOK},
		{"db down", errors.New("refused"), nil, http.StatusServiceUnavailable},
		{"dependency down", nil, []Check{badCheck}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			ping := func(context.Context) error { return tt.ping }
			h := healthHandler(ping, func() *PoolStats { return &PoolStats{TotalConns: 1, Healthy: true} }, tt.checks)
			if err := h(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}
