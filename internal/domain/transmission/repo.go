package transmission

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, patientID string) (*Patient, error)
	UpdateDemographics(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type TransmissionRepository interface {
	Create(ctx context.Context, t *Transmission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transmission, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Transmission, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ObservationRepository interface {
	CreateBatch(ctx context.Context, obs []*Observation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Observation, error)
	ListByTransmission(ctx context.Context, transmissionID uuid.UUID) ([]*Observation, error)
}

type EpisodeRepository interface {
	CreateBatch(ctx context.Context, eps []*ArrhythmiaEpisode) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ArrhythmiaEpisode, int, error)
}

type ParameterRepository interface {
	CreateBatch(ctx context.Context, params []*DeviceParameter) error
	ListByTransmission(ctx context.Context, transmissionID uuid.UUID) ([]*DeviceParameter, error)
}

// Store groups the repositories the import pipeline writes to.
type Store struct {
	Patients      PatientRepository
	Transmissions TransmissionRepository
	Observations  ObservationRepository
	Episodes      EpisodeRepository
	Parameters    ParameterRepository
}
