package transmission

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

type Type string

const (
	TypeRemote   Type = "remote"
	TypeInClinic Type = "in_clinic"
)

type Patient struct {
	PatientID    string     `json:"patient_id"`
	Name         string     `json:"name,omitempty"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	Anonymized   bool       `json:"anonymized"`
	AnonymizedID string     `json:"anonymized_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DisplayID is the identifier shown to users: the anonymized id when the
// patient was imported with anonymization on.
func (p *Patient) DisplayID() string {
	if p.Anonymized && p.AnonymizedID != "" {
		return p.AnonymizedID
	}
	return p.PatientID
}

type Transmission struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          string    `json:"patient_id"`
	TransmissionDate   time.Time `json:"transmission_date"`
	TransmissionType   Type      `json:"transmission_type"`
	MessageControlID   string    `json:"message_control_id,omitempty"`
	SendingApplication string    `json:"sending_application,omitempty"`
	SendingFacility    string    `json:"sending_facility,omitempty"`
	Vendor             string    `json:"vendor"`
	DeviceModel        string    `json:"device_model,omitempty"`
	DeviceSerial       string    `json:"device_serial,omitempty"`
	FirmwareVersion    string    `json:"firmware_version,omitempty"`
	SourceFilename     string    `json:"source_filename,omitempty"`
	ImportedAt         time.Time `json:"imported_at"`
}

// Observation is one stored OBX. At most one of ValueNumeric, ValueText
// and ValueBlob is set; none is set only when ErrorFlag is.
type Observation struct {
	ID              uuid.UUID `json:"id"`
	TransmissionID  uuid.UUID `json:"transmission_id"`
	SequenceNumber  int       `json:"sequence_number"`
	SubID           string    `json:"sub_id,omitempty"`
	VendorCode      string    `json:"vendor_code"`
	LOINCCode       string    `json:"loinc_code,omitempty"`
	VariableName    string    `json:"variable_name"`
	Mapped          bool      `json:"mapped"`
	ValueType       string    `json:"value_type"`
	ValueNumeric    *float64  `json:"value_numeric,omitempty"`
	ValueText       *string   `json:"value_text,omitempty"`
	ValueBlob       []byte    `json:"-"`
	BlobSize        int       `json:"blob_size,omitempty"`
	ErrorFlag       bool      `json:"error_flag"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	Unit            string    `json:"unit,omitempty"`
	ReferenceRange  string    `json:"reference_range,omitempty"`
	AbnormalFlag    string    `json:"abnormal_flag,omitempty"`
	ResultStatus    string    `json:"result_status,omitempty"`
	ObservationTime time.Time `json:"observation_time"`
	QualityFlags    []string  `json:"quality_flags"`
	Severity        string    `json:"severity"`
}

type EpisodeSource string

const (
	SourceDevice EpisodeSource = "device"
	SourceEGM    EpisodeSource = "egm"
)

type ArrhythmiaEpisode struct {
	ID               uuid.UUID     `json:"id"`
	TransmissionID   uuid.UUID     `json:"transmission_id"`
	PatientID        string        `json:"patient_id"`
	EpisodeType      string        `json:"episode_type"`
	StartTime        time.Time     `json:"start_time"`
	DurationSeconds  *float64      `json:"duration_seconds,omitempty"`
	AverageRate      *float64      `json:"average_rate,omitempty"`
	MaxRate          *float64      `json:"max_rate,omitempty"`
	EGMObservationID *uuid.UUID    `json:"egm_observation_id,omitempty"`
	Source           EpisodeSource `json:"source"`
}

type DeviceParameter struct {
	ID             uuid.UUID `json:"id"`
	TransmissionID uuid.UUID `json:"transmission_id"`
	Name           string    `json:"name"`
	Value          string    `json:"value"`
	Unit           string    `json:"unit,omitempty"`
	Category       string    `json:"category"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// ImportResult summarizes one imported message.
type ImportResult struct {
	Transmission   *Transmission        `json:"transmission"`
	PatientCreated bool                 `json:"patient_created"`
	Observations   []*Observation       `json:"observations"`
	Episodes       []*ArrhythmiaEpisode `json:"episodes"`
	Parameters     []*DeviceParameter   `json:"parameters"`
	Mapped         int                  `json:"mapped"`
	Unmapped       int                  `json:"unmapped"`
	FieldErrors    int                  `json:"field_errors"`
	Warnings       []string             `json:"warnings,omitempty"`
}
