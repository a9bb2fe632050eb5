package transmission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	store map[string]*Patient
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.store[p.PatientID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, patientID string) (*Patient, error) {
	p, ok := m.store[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) UpdateDemographics(_ context.Context, p *Patient) error {
	if _, ok := m.store[p.PatientID]; !ok {
		return ErrNotFound
	}
	m.store[p.PatientID] = p
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var r []*Patient
	for _, p := range m.store {
		r = append(r, p)
	}
	return r, len(r), nil
}

type mockTransmissionRepo struct {
	store map[uuid.UUID]*Transmission
	order []uuid.UUID
}

func (m *mockTransmissionRepo) Create(_ context.Context, t *Transmission) error {
	t.ImportedAt = time.Now()
	m.store[t.ID] = t
	m.order = append(m.order, t.ID)
	return nil
}

func (m *mockTransmissionRepo) GetByID(_ context.Context, id uuid.UUID) (*Transmission, error) {
	t, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *mockTransmissionRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Transmission, int, error) {
	var r []*Transmission
	for _, id := range m.order {
		if t, ok := m.store[id]; ok && t.PatientID == patientID {
			r = append(r, t)
		}
	}
	total := len(r)
	if offset >= total {
		return []*Transmission{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return r[offset:end], total, nil
}

func (m *mockTransmissionRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

type mockObservationRepo struct {
	store []*Observation
}

func (m *mockObservationRepo) CreateBatch(_ context.Context, obs []*Observation) error {
	m.store = append(m.store, obs...)
	return nil
}

func (m *mockObservationRepo) GetByID(_ context.Context, id uuid.UUID) (*Observation, error) {
	for _, o := range m.store {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockObservationRepo) ListByTransmission(_ context.Context, transmissionID uuid.UUID) ([]*Observation, error) {
	var r []*Observation
	for _, o := range m.store {
		if o.TransmissionID == transmissionID {
			r = append(r, o)
		}
	}
	return r, nil
}

type mockEpisodeRepo struct {
	store []*ArrhythmiaEpisode
}

func (m *mockEpisodeRepo) CreateBatch(_ context.Context, eps []*ArrhythmiaEpisode) error {
	m.store = append(m.store, eps...)
	return nil
}

func (m *mockEpisodeRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*ArrhythmiaEpisode, int, error) {
	var r []*ArrhythmiaEpisode
	for _, e := range m.store {
		if e.PatientID == patientID {
			r = append(r, e)
		}
	}
	return r, len(r), nil
}

type mockParameterRepo struct {
	store []*DeviceParameter
}

func (m *mockParameterRepo) CreateBatch(_ context.Context, params []*DeviceParameter) error {
	m.store = append(m.store, params...)
	return nil
}

func (m *mockParameterRepo) ListByTransmission(_ context.Context, transmissionID uuid.UUID) ([]*DeviceParameter, error) {
	var r []*DeviceParameter
	for _, p := range m.store {
		if p.TransmissionID == transmissionID {
			r = append(r, p)
		}
	}
	return r, nil
}

type mockStore struct {
	patients      *mockPatientRepo
	transmissions *mockTransmissionRepo
	observations  *mockObservationRepo
	episodes      *mockEpisodeRepo
	parameters    *mockParameterRepo
}

func newMockStore() *mockStore {
	return &mockStore{
		patients:      &mockPatientRepo{store: make(map[string]*Patient)},
		transmissions: &mockTransmissionRepo{store: make(map[uuid.UUID]*Transmission)},
		observations:  &mockObservationRepo{},
		episodes:      &mockEpisodeRepo{},
		parameters:    &mockParameterRepo{},
	}
}

func (m *mockStore) Store() Store {
	return Store{
		Patients:      m.patients,
		Transmissions: m.transmissions,
		Observations:  m.observations,
		Episodes:      m.episodes,
		Parameters:    m.parameters,
	}
}

// mockTx runs fn directly and counts transactions.
type mockTx struct {
	calls int
}

func (m *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}
