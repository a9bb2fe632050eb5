package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pacetrack/pacetrack/internal/domain/transmission"
	"github.com/pacetrack/pacetrack/internal/domain/trend"
	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/metrics"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
	"github.com/pacetrack/pacetrack/internal/platform/vendor"
)

// TrendBuilder is satisfied by *trend.Calculator.
type TrendBuilder interface {
	Build(ctx context.Context, patientID, variable string, w trend.Window) (*trend.LongitudinalTrend, error)
	BuildAll(ctx context.Context, patientID string) (map[string]*trend.LongitudinalTrend, error)
}

// ObservationReader is satisfied by *transmission.Service.
type ObservationReader interface {
	GetObservation(ctx context.Context, id uuid.UUID) (*transmission.Observation, error)
	GetTransmission(ctx context.Context, id uuid.UUID) (*transmission.Transmission, error)
}

type Config struct {
	Battery         BatteryConfig
	Impedance       ImpedanceConfig
	Burden          BurdenConfig
	Overrides       vendor.Overrides
	EGMStripSeconds float64
}

func DefaultConfig() Config {
	return Config{
		Battery:         DefaultBatteryConfig(),
		Impedance:       DefaultImpedanceConfig(),
		Burden:          DefaultBurdenConfig(),
		EGMStripSeconds: egm.DefaultStripSeconds,
	}
}

// Service runs the analyzers over trends and stored observations.
type Service struct {
	trends       TrendBuilder
	observations ObservationReader
	proc         *egm.Processor
	cfg          Config
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// NewService creates a Service. observations may be nil when EGM analysis
// is not needed; m may be nil.
func NewService(trends TrendBuilder, observations ObservationReader, proc *egm.Processor, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if proc == nil {
		proc = egm.NewProcessor(egm.DefaultConfig())
	}
	return &Service{
		trends:       trends,
		observations: observations,
		proc:         proc,
		cfg:          cfg,
		metrics:      m,
		logger:       logger,
	}
}

func (s *Service) Battery(ctx context.Context, patientID string, w trend.Window) (*BatteryPrediction, error) {
	t, err := s.trends.Build(ctx, patientID, VariableBatteryVoltage, w)
	if err != nil {
		return nil, err
	}
	p := AnalyzeBattery(t, s.cfg.Battery)
	s.metrics.Analysis("battery")
	s.logger.Debug().
		Str("patient_id", patientID).
		Bool("can_predict", p.CanPredict).
		Str("confidence", p.Confidence).
		Msg("battery analyzed")
	return &p, nil
}

// Impedance reviews every lead impedance series of the patient, ordered by
// variable name. A patient without any impedance data yields
// validation.ErrInsufficientData.
func (s *Service) Impedance(ctx context.Context, patientID string, w trend.Window) (*ImpedanceReport, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	all, err := s.trends.BuildAll(ctx, patientID)
	if err != nil {
		return nil, err
	}
	var variables []string
	for v := range all {
		if strings.HasPrefix(v, ImpedancePrefix) {
			variables = append(variables, v)
		}
	}
	if len(variables) == 0 {
		return nil, fmt.Errorf("no lead impedance series for patient: %w", validation.ErrInsufficientData)
	}
	sort.Strings(variables)

	report := &ImpedanceReport{PatientID: patientID}
	for _, v := range variables {
		t := all[v]
		if w.Start != nil || w.End != nil {
			if t, err = s.trends.Build(ctx, patientID, v, w); err != nil {
				return nil, err
			}
		}
		report.Leads = append(report.Leads, AnalyzeLead(t, s.cfg.Impedance))
	}
	report.Status = worstStatus(report.Leads)
	s.metrics.Analysis("impedance")
	s.logger.Debug().
		Str("patient_id", patientID).
		Int("leads", len(report.Leads)).
		Str("status", report.Status).
		Msg("impedance analyzed")
	return report, nil
}

// Arrhythmia analyzes a burden variable, afib_burden_percent by default.
func (s *Service) Arrhythmia(ctx context.Context, patientID, variable string, w trend.Window) (*BurdenAnalysis, error) {
	if variable == "" {
		variable = VariableAFibBurden
	}
	if !IsBurdenVariable(variable) {
		return nil, validation.New(validation.KindGeneric, "variable", variable, "not an arrhythmia burden variable")
	}
	t, err := s.trends.Build(ctx, patientID, variable, w)
	if err != nil {
		return nil, err
	}
	a := AnalyzeBurden(t, s.cfg.Burden)
	s.metrics.Analysis("arrhythmia")
	s.logger.Debug().
		Str("patient_id", patientID).
		Str("variable", variable).
		Str("direction", a.Trend.Direction).
		Msg("arrhythmia burden analyzed")
	return &a, nil
}

// EGM decodes and analyzes the waveform stored on an observation using the
// translator of the transmission's vendor.
func (s *Service) EGM(ctx context.Context, observationID uuid.UUID) (*EGMAnalysis, error) {
	o, err := s.observations.GetObservation(ctx, observationID)
	if err != nil {
		return nil, err
	}
	if len(o.ValueBlob) == 0 {
		return nil, ErrNoWaveform
	}
	t, err := s.observations.GetTransmission(ctx, o.TransmissionID)
	if err != nil {
		return nil, err
	}
	tr := vendor.For(vendor.Vendor(t.Vendor), s.cfg.Overrides)
	res, err := AnalyzeEGM(o.ValueBlob, tr, s.proc, s.cfg.EGMStripSeconds)
	if err != nil {
		s.logger.Warn().Err(err).Str("observation_id", observationID.String()).Msg("egm analysis failed")
		return nil, err
	}
	res.ObservationID = o.ID
	res.TransmissionID = o.TransmissionID
	s.metrics.Analysis("egm")
	return res, nil
}
