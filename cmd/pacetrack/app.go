package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pacetrack/pacetrack/internal/config"
	"github.com/pacetrack/pacetrack/internal/domain/analysis"
	"github.com/pacetrack/pacetrack/internal/domain/transmission"
	"github.com/pacetrack/pacetrack/internal/domain/trend"
	"github.com/pacetrack/pacetrack/internal/platform/cache"
	"github.com/pacetrack/pacetrack/internal/platform/db"
	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/hl7v2"
	"github.com/pacetrack/pacetrack/internal/platform/metrics"
	"github.com/pacetrack/pacetrack/internal/platform/normalize"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
	"github.com/pacetrack/pacetrack/internal/platform/vendor"
)

// app holds everything a command needs once the store is reachable.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	cache    cache.Cache
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	transmissions *transmission.Service
	trends        *trend.Calculator
	analysis      *analysis.Service

	closers []func()
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	overrides, err := vendor.LoadOverrides(cfg.VendorCodesFile)
	if err != nil {
		return nil, fmt.Errorf("load vendor codes: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		registry: prometheus.NewRegistry(),
		closers:  []func(){pool.Close},
	}
	a.metrics = metrics.New(a.registry)
	a.cache = a.newCache(ctx)

	repo := trend.NewRepoPG(pool)
	a.trends = trend.NewCalculator(repo, repo, a.cache, cfg.TrendCacheTTL, logger)

	proc := egm.NewProcessor(egmConfig(cfg))
	a.transmissions = transmission.NewService(transmission.NewStorePG(pool), db.NewTransactor(pool), transmission.Deps{
		Validator:       hl7v2.NewValidator(cfg.HL7MinBytes, cfg.HL7MaxBytes, logger),
		Sanitizer:       validation.NewSanitizer(limits(cfg), logger),
		Normalizer:      normalize.New(thresholds(cfg), logger),
		Overrides:       overrides,
		EGM:             proc,
		EGMStripSeconds: cfg.EGMStripSeconds,
		Cache:           a.cache,
		Trends:          a.trends,
		Metrics:         a.metrics,
		Anonymize:       cfg.AnonymizePatients,
		Logger:          logger,
	})
	a.analysis = analysis.NewService(a.trends, a.transmissions, proc, analysisConfig(cfg, overrides), a.metrics, logger)
	return a, nil
}

// newCache connects to Redis when REDIS_URL is set and falls back to the
// in-process cache when it is unset or unreachable.
func (a *app) newCache(ctx context.Context) cache.Cache {
	if a.cfg.RedisURL == "" {
		return cache.NewMemory()
	}
	bc := cache.DefaultBreakerConfig()
	bc.OnStateChange = a.metrics.BreakerChanged
	r, err := cache.NewRedis(ctx, a.cfg.RedisURL, bc, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("redis unavailable, using in-memory trend cache")
		return cache.NewMemory()
	}
	a.closers = append(a.closers, func() { _ = r.Close() })
	a.logger.Info().Msg("connected to redis")
	return r
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func limits(cfg *config.Config) validation.Limits {
	return validation.Limits{
		PatientIDMaxLen:   cfg.PatientIDMaxLen,
		PatientNameMaxLen: cfg.PatientNameMaxLen,
		TextMaxLen:        cfg.TextFieldMaxLen,
	}
}

func thresholds(cfg *config.Config) normalize.Thresholds {
	t := normalize.DefaultThresholds()
	t.BatteryERIVoltage = cfg.BatteryERIVoltage
	t.ImpedanceMinOhms = cfg.ImpedanceMinOhms
	t.ImpedanceMaxOhms = cfg.ImpedanceMaxOhms
	return t
}

func egmConfig(cfg *config.Config) egm.Config {
	c := egm.DefaultConfig()
	c.LowCutHz = cfg.EGMLowCutoffHz
	c.HighCutHz = cfg.EGMHighCutoffHz
	c.MinRRMs = cfg.EGMMinRRMs
	return c
}

func analysisConfig(cfg *config.Config, overrides vendor.Overrides) analysis.Config {
	c := analysis.DefaultConfig()
	c.Battery.ERIVoltage = cfg.BatteryERIVoltage
	c.Battery.EOLVoltage = cfg.BatteryEOLVoltage
	c.Battery.NominalVoltage = cfg.BatteryNominalVoltage
	c.Impedance.MinOhms = cfg.ImpedanceMinOhms
	c.Impedance.MaxOhms = cfg.ImpedanceMaxOhms
	c.Impedance.FractureDelta = cfg.ImpedanceFractureDelta
	c.Impedance.InsulationDelta = cfg.ImpedanceInsulationDelta
	c.Burden.ParoxysmalPct = cfg.BurdenParoxysmalPct
	c.Burden.PersistentPct = cfg.BurdenPersistentPct
	c.Burden.ChronicPct = cfg.BurdenChronicPct
	c.Overrides = overrides
	c.EGMStripSeconds = cfg.EGMStripSeconds
	return c
}
