package transmission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pacetrack/pacetrack/internal/platform/cache"
	"github.com/pacetrack/pacetrack/internal/platform/db"
	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/hl7v2"
	"github.com/pacetrack/pacetrack/internal/platform/metrics"
	"github.com/pacetrack/pacetrack/internal/platform/normalize"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
	"github.com/pacetrack/pacetrack/internal/platform/vendor"
)

// TrendRefresher rewrites a patient's trend snapshots. It is satisfied by
// *trend.Calculator.
type TrendRefresher interface {
	Refresh(ctx context.Context, patientID string) (int, error)
}

// Deps are the pipeline stages and side channels the import service uses.
// Cache, Trends and Metrics may be nil.
type Deps struct {
	Validator       *hl7v2.Validator
	Sanitizer       *validation.Sanitizer
	Normalizer      *normalize.Normalizer
	Overrides       vendor.Overrides
	EGM             *egm.Processor
	EGMStripSeconds float64
	Cache           cache.Cache
	Trends          TrendRefresher
	Metrics         *metrics.Metrics
	Anonymize       bool
	Logger          zerolog.Logger
}

type Service struct {
	store Store
	tx    db.Transactor
	deps  Deps

	parse func(string) (*hl7v2.Message, error)
	now   func() time.Time
}

func NewService(store Store, tx db.Transactor, deps Deps) *Service {
	if deps.Validator == nil {
		deps.Validator = hl7v2.NewValidator(0, 0, deps.Logger)
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = validation.NewSanitizer(validation.DefaultLimits(), deps.Logger)
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(normalize.DefaultThresholds(), deps.Logger)
	}
	if deps.EGM == nil {
		deps.EGM = egm.NewProcessor(egm.DefaultConfig())
	}
	return &Service{
		store: store,
		tx:    tx,
		deps:  deps,
		parse: hl7v2.Parse,
		now:   time.Now,
	}
}

// Import validates, parses, translates and normalizes one ORU^R01 message
// and persists the transmission with all of its children in a single
// transaction. Message-level failures return before anything is written.
func (s *Service) Import(ctx context.Context, raw []byte, sourceFilename string) (*ImportResult, error) {
	start := s.now()

	text, err := s.deps.Validator.Validate(raw)
	if err != nil {
		s.deps.Metrics.Validated("fail")
		return nil, err
	}
	s.deps.Metrics.Validated("pass")

	msg, err := s.parse(text)
	if err != nil {
		return nil, validation.New(validation.KindHL7, "message", "", err.Error())
	}
	oru, err := hl7v2.ParseORU(msg)
	if err != nil {
		return nil, err
	}

	res, err := s.build(oru, sourceFilename)
	if err != nil {
		return nil, err
	}
	patient := s.patientFrom(oru.Patient, res)

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.Patients.GetByID(ctx, patient.PatientID); errors.Is(err, ErrNotFound) {
			if err := s.store.Patients.Create(ctx, patient); err != nil {
				return fmt.Errorf("creating patient: %w", err)
			}
			res.PatientCreated = true
		} else if err != nil {
			return fmt.Errorf("loading patient: %w", err)
		}
		if err := s.store.Transmissions.Create(ctx, res.Transmission); err != nil {
			return fmt.Errorf("creating transmission: %w", err)
		}
		if err := s.store.Observations.CreateBatch(ctx, res.Observations); err != nil {
			return fmt.Errorf("creating observations: %w", err)
		}
		if err := s.store.Episodes.CreateBatch(ctx, res.Episodes); err != nil {
			return fmt.Errorf("creating episodes: %w", err)
		}
		if err := s.store.Parameters.CreateBatch(ctx, res.Parameters); err != nil {
			return fmt.Errorf("creating device parameters: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observationsChanged(ctx, patient.PatientID)
	for _, o := range res.Observations {
		s.deps.Metrics.Observation(o.Mapped)
	}
	s.deps.Metrics.ImportTook(s.now().Sub(start))

	s.deps.Logger.Info().
		Bool("audit", true).
		Str("event", "transmission_import").
		Str("transmission_id", res.Transmission.ID.String()).
		Str("patient", patient.DisplayID()).
		Str("vendor", res.Transmission.Vendor).
		Int("observations", len(res.Observations)).
		Int("unmapped", res.Unmapped).
		Int("field_errors", res.FieldErrors).
		Msg("transmission imported")
	return res, nil
}

// build turns the parsed draft into unsaved entities. Only the patient id
// can fail the message here.
func (s *Service) build(oru *hl7v2.ORU, sourceFilename string) (*ImportResult, error) {
	patientID, err := s.deps.Sanitizer.PatientID(oru.Patient.ID)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	translator := vendor.For(vendor.ResolveVendor(oru.Header.SendingApp, oru.Header.SendingFacility), s.deps.Overrides)

	t := &Transmission{
		ID:                 uuid.New(),
		PatientID:          patientID,
		TransmissionDate:   s.transmissionDate(oru),
		TransmissionType:   TypeInClinic,
		MessageControlID:   s.headerText(res, "message_control_id", oru.Header.ControlID),
		SendingApplication: s.headerText(res, "sending_application", oru.Header.SendingApp),
		SendingFacility:    s.headerText(res, "sending_facility", oru.Header.SendingFacility),
		Vendor:             string(translator.Vendor()),
		SourceFilename:     s.textOrWarn(res, "source_filename", sourceFilename, 500),
	}
	if oru.IsRemote() {
		t.TransmissionType = TypeRemote
	}
	res.Transmission = t

	for _, d := range oru.Observations() {
		o := s.observation(t, translator, d)
		if o.ErrorFlag {
			res.FieldErrors++
		}
		if o.Mapped {
			res.Mapped++
		} else {
			res.Unmapped++
		}
		res.Observations = append(res.Observations, o)
	}

	applyDeviceIdentity(t, res.Observations)
	res.Episodes = s.extractEpisodes(t, translator, res.Observations)
	res.Parameters = extractParameters(t, res.Observations)
	return res, nil
}

func (s *Service) patientFrom(d hl7v2.PatientDraft, res *ImportResult) *Patient {
	p := &Patient{
		PatientID:   res.Transmission.PatientID,
		DateOfBirth: d.DateOfBirth,
		Gender:      s.textOrWarn(res, "gender", d.Gender, 10),
	}
	name, err := s.deps.Sanitizer.PatientName(d.DisplayName())
	if err != nil {
		res.Warnings = append(res.Warnings, "patient name dropped: "+reasonOf(err))
	}
	if s.deps.Anonymize {
		p.Anonymized = true
		p.AnonymizedID = anonymizedID(p.PatientID)
	} else {
		p.Name = name
	}
	return p
}

func anonymizedID(patientID string) string {
	r := []rune(patientID)
	if len(r) > 3 {
		r = r[len(r)-3:]
	}
	return "Patient_" + string(r)
}

func (s *Service) transmissionDate(oru *hl7v2.ORU) time.Time {
	if !oru.Header.MessageTime.IsZero() {
		return oru.Header.MessageTime
	}
	for _, g := range oru.Groups {
		if !g.ObservedAt.IsZero() {
			return g.ObservedAt
		}
	}
	return s.now().UTC()
}

func (s *Service) headerText(res *ImportResult, field, raw string) string {
	return s.textOrWarn(res, field, raw, 100)
}

// textOrWarn sanitizes an optional text value. A value that fails is
// dropped and reported on the result instead of failing the message.
func (s *Service) textOrWarn(res *ImportResult, field, raw string, maxLen int) string {
	clean, err := s.deps.Sanitizer.Text(field, raw, maxLen)
	if err != nil {
		res.Warnings = append(res.Warnings, field+" dropped: "+reasonOf(err))
		return ""
	}
	return clean
}

func reasonOf(err error) string {
	if ve, ok := validation.AsValidationError(err); ok {
		return ve.Reason
	}
	return err.Error()
}

// observationsChanged evicts the patient's cached trends and rewrites the
// snapshots. Both run after commit, so failures are logged, not returned.
func (s *Service) observationsChanged(ctx context.Context, patientID string) {
	if s.deps.Cache != nil {
		if err := s.deps.Cache.DeletePrefix(ctx, cache.TrendPatientPrefix(patientID)); err != nil {
			s.deps.Logger.Warn().Err(err).Msg("trend cache invalidation failed")
		}
	}
	if s.deps.Trends != nil {
		if _, err := s.deps.Trends.Refresh(ctx, patientID); err != nil {
			s.deps.Logger.Warn().Err(err).Msg("trend snapshot refresh failed")
		}
	}
}

// CorrectDemographics is the only mutation a Patient allows. Names of
// anonymized patients are not stored.
func (s *Service) CorrectDemographics(ctx context.Context, patientID string, name string, dob *time.Time, gender string) (*Patient, error) {
	p, err := s.store.Patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	clean, err := s.deps.Sanitizer.PatientName(name)
	if err != nil {
		return nil, err
	}
	g, err := s.deps.Sanitizer.Text("gender", gender, 10)
	if err != nil {
		return nil, err
	}
	if !p.Anonymized {
		p.Name = clean
	}
	p.DateOfBirth = dob
	p.Gender = strings.ToUpper(g)
	if err := s.store.Patients.UpdateDemographics(ctx, p); err != nil {
		return nil, err
	}
	s.deps.Logger.Info().
		Bool("audit", true).
		Str("event", "demographics_corrected").
		Str("patient", p.DisplayID()).
		Msg("patient demographics corrected")
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	return s.store.Patients.GetByID(ctx, patientID)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.store.Patients.List(ctx, limit, offset)
}

func (s *Service) GetTransmission(ctx context.Context, id uuid.UUID) (*Transmission, error) {
	return s.store.Transmissions.GetByID(ctx, id)
}

func (s *Service) ListTransmissions(ctx context.Context, patientID string, limit, offset int) ([]*Transmission, int, error) {
	return s.store.Transmissions.ListByPatient(ctx, patientID, limit, offset)
}

// DeleteTransmission removes a transmission and, through the cascade, its
// observations, episodes and parameters.
func (s *Service) DeleteTransmission(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.Transmissions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Transmissions.Delete(ctx, id); err != nil {
		return err
	}
	s.observationsChanged(ctx, t.PatientID)
	s.deps.Logger.Info().
		Bool("audit", true).
		Str("event", "transmission_delete").
		Str("transmission_id", id.String()).
		Msg("transmission deleted")
	return nil
}

func (s *Service) ListObservations(ctx context.Context, transmissionID uuid.UUID) ([]*Observation, error) {
	return s.store.Observations.ListByTransmission(ctx, transmissionID)
}

func (s *Service) GetObservation(ctx context.Context, id uuid.UUID) (*Observation, error) {
	return s.store.Observations.GetByID(ctx, id)
}

func (s *Service) ListEpisodes(ctx context.Context, patientID string, limit, offset int) ([]*ArrhythmiaEpisode, int, error) {
	return s.store.Episodes.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListParameters(ctx context.Context, transmissionID uuid.UUID) ([]*DeviceParameter, error) {
	return s.store.Parameters.ListByTransmission(ctx, transmissionID)
}
