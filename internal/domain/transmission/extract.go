package transmission

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pacetrack/pacetrack/internal/platform/egm"
	"github.com/pacetrack/pacetrack/internal/platform/hl7v2"
	"github.com/pacetrack/pacetrack/internal/platform/normalize"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
	"github.com/pacetrack/pacetrack/internal/platform/vendor"
)

// Column widths of the observation table.
const (
	maxSubID          = 50
	maxCode           = 100
	maxLOINC          = 20
	maxUnit           = 20
	maxReferenceRange = 100
	maxAbnormalFlag   = 10
	maxResultStatus   = 5
	maxErrorDetail    = 500
)

// observation translates and normalizes one draft. Failures stay on the
// returned observation.
func (s *Service) observation(t *Transmission, tr vendor.Translator, d hl7v2.ObservationDraft) *Observation {
	code := clip(d.Code, maxCode)
	translation := tr.Translate(d.Code, d.CodeText)
	variable := clip(translation.Variable, maxCode)
	if variable == "" {
		variable = "unknown"
	}

	o := &Observation{
		ID:              uuid.New(),
		TransmissionID:  t.ID,
		SequenceNumber:  d.Sequence,
		SubID:           clip(d.SubID, maxSubID),
		VendorCode:      code,
		LOINCCode:       clip(translation.LOINC, maxLOINC),
		VariableName:    variable,
		Mapped:          translation.Mapped,
		ReferenceRange:  clip(d.ReferenceRange, maxReferenceRange),
		AbnormalFlag:    clip(d.AbnormalFlag, maxAbnormalFlag),
		ResultStatus:    clip(d.Status, maxResultStatus),
		ObservationTime: d.ObservedAt,
	}
	if o.ObservationTime.IsZero() {
		o.ObservationTime = t.TransmissionDate
	}

	res, err := s.deps.Normalizer.Normalize(d, variable)
	o.ValueType = string(res.ValueType)
	o.Unit = clip(res.Unit, maxUnit)
	o.QualityFlags = res.Quality.Flags
	o.Severity = string(res.Quality.Severity)
	if o.Severity == "" {
		o.Severity = string(normalize.SeverityNormal)
	}
	if err != nil {
		s.fieldError(o, err)
	}

	switch res.ValueType {
	case normalize.ValueNumeric:
		o.ValueNumeric = res.Numeric
	case normalize.ValueBinary:
		if len(res.Blob) > 0 {
			o.ValueBlob = res.Blob
			o.BlobSize = len(res.Blob)
		}
	case normalize.ValueHistogram:
		if res.Text != "" {
			text := res.Text
			o.ValueText = &text
		}
	default:
		if res.Text == "" {
			break
		}
		clean, err := s.deps.Sanitizer.Text("observation_value", res.Text, 0)
		if err != nil {
			s.fieldError(o, err)
			break
		}
		o.ValueText = &clean
	}
	return o
}

func (s *Service) fieldError(o *Observation, err error) {
	kind := errorKind(err)
	o.ErrorFlag = true
	detail := err.Error()
	if ve, ok := validation.AsValidationError(err); ok {
		detail = ve.Field + ": " + ve.Reason
	}
	if o.ErrorDetail != "" {
		detail = o.ErrorDetail + "; " + detail
	}
	o.ErrorDetail = clip(detail, maxErrorDetail)
	s.deps.Metrics.ObservationError(kind)
	s.deps.Logger.Warn().
		Int("sequence", o.SequenceNumber).
		Str("variable", o.VariableName).
		Str("kind", kind).
		Msg("observation recorded with error")
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, normalize.ErrCoercion):
		return "coercion"
	case errors.Is(err, normalize.ErrBinaryDecode):
		return "binary_decode"
	case errors.Is(err, normalize.ErrNonFinite):
		return "non_finite"
	case errors.Is(err, validation.ErrValidation):
		return "sanitize"
	default:
		return "histogram"
	}
}

func clip(s string, n int) string {
	s = strings.TrimSpace(validation.StripControl(s))
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// valueString renders a text or numeric observation value.
func valueString(o *Observation) string {
	switch {
	case o.ValueText != nil:
		return *o.ValueText
	case o.ValueNumeric != nil:
		return strconv.FormatFloat(*o.ValueNumeric, 'f', -1, 64)
	default:
		return ""
	}
}

// applyDeviceIdentity copies model, serial and firmware from device-info
// observations onto the transmission. The first value wins.
func applyDeviceIdentity(t *Transmission, obs []*Observation) {
	for _, o := range obs {
		if o.ErrorFlag {
			continue
		}
		v := valueString(o)
		switch o.VariableName {
		case "device_model":
			if t.DeviceModel == "" {
				t.DeviceModel = clip(v, 100)
			}
		case "device_serial":
			if t.DeviceSerial == "" {
				t.DeviceSerial = clip(v, 100)
			}
		case "device_firmware":
			if t.FirmwareVersion == "" {
				t.FirmwareVersion = clip(v, 50)
			}
		}
	}
}

func isEpisodeVariable(variable string) bool {
	switch variable {
	case "episode_type", "episode_vendor_type", "episode_datetime", "episode_duration",
		"episode_rate_mean", "episode_rate_max", "episode_id", "egm_strip":
		return true
	}
	return false
}

// extractEpisodes groups episode observations by OBX-4 sub-ID, in order of
// first appearance. A group needs an episode type, time or duration, or an
// EGM strip under a sub-ID. Missing rates are filled from the strip.
func (s *Service) extractEpisodes(t *Transmission, tr vendor.Translator, obs []*Observation) []*ArrhythmiaEpisode {
	var order []string
	groups := map[string][]*Observation{}
	for _, o := range obs {
		if !isEpisodeVariable(o.VariableName) {
			continue
		}
		if _, ok := groups[o.SubID]; !ok {
			order = append(order, o.SubID)
		}
		groups[o.SubID] = append(groups[o.SubID], o)
	}

	var episodes []*ArrhythmiaEpisode
	for _, key := range order {
		ep := &ArrhythmiaEpisode{ID: uuid.New(), TransmissionID: t.ID, PatientID: t.PatientID, Source: SourceDevice}
		var egmObs *Observation
		isEpisode := false
		for _, o := range groups[key] {
			if ep.StartTime.IsZero() {
				ep.StartTime = o.ObservationTime
			}
			switch o.VariableName {
			case "episode_type", "episode_vendor_type":
				if ep.EpisodeType == "" && o.ValueText != nil {
					ep.EpisodeType = clip(*o.ValueText, 50)
				}
				isEpisode = true
			case "episode_datetime":
				if ts, err := hl7v2.ParseTimestamp(valueString(o)); err == nil {
					ep.StartTime = ts
				}
				isEpisode = true
			case "episode_duration":
				ep.DurationSeconds = o.ValueNumeric
				isEpisode = true
			case "episode_rate_mean":
				ep.AverageRate = o.ValueNumeric
			case "episode_rate_max":
				ep.MaxRate = o.ValueNumeric
			case "egm_strip":
				if egmObs == nil && o.ValueBlob != nil {
					egmObs = o
				}
			}
		}
		if !isEpisode && (egmObs == nil || key == "") {
			continue
		}
		if ep.EpisodeType == "" {
			ep.EpisodeType = "unknown"
		}
		if egmObs != nil {
			id := egmObs.ID
			ep.EGMObservationID = &id
			if ep.AverageRate == nil || ep.MaxRate == nil {
				s.fillRatesFromEGM(ep, tr, egmObs)
			}
		}
		episodes = append(episodes, ep)
	}
	return episodes
}

func (s *Service) fillRatesFromEGM(ep *ArrhythmiaEpisode, tr vendor.Translator, o *Observation) {
	w, err := egm.Decode(o.ValueBlob, tr.BlobFormatHint(o.ValueBlob), egm.DecodeOptions{
		HeaderSize:   tr.EGMHeaderSize(),
		StripSeconds: s.deps.EGMStripSeconds,
	})
	if err != nil {
		s.deps.Logger.Warn().Err(err).Int("sequence", o.SequenceNumber).Msg("episode egm not decoded")
		return
	}
	result := s.deps.EGM.AnalyzeWaveform(w)
	if result.Stats.Empty {
		return
	}
	if ep.AverageRate == nil {
		mean := result.Stats.MeanBPM
		ep.AverageRate = &mean
	}
	if ep.MaxRate == nil {
		peak := result.Stats.MaxBPM
		ep.MaxRate = &peak
	}
	ep.Source = SourceEGM
}

// extractParameters keeps programmed and fixed settings as DeviceParameters.
func extractParameters(t *Transmission, obs []*Observation) []*DeviceParameter {
	var params []*DeviceParameter
	for _, o := range obs {
		if o.ErrorFlag || !o.Mapped {
			continue
		}
		category := vendor.SettingCategory(o.VariableName)
		if category == "" {
			continue
		}
		params = append(params, &DeviceParameter{
			ID:             uuid.New(),
			TransmissionID: t.ID,
			Name:           o.VariableName,
			Value:          clip(valueString(o), 500),
			Unit:           o.Unit,
			Category:       category,
			RecordedAt:     o.ObservationTime,
		})
	}
	return params
}
