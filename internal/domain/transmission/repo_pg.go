package transmission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pacetrack/pacetrack/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type pgRepo struct{ pool *pgxpool.Pool }

func (r *pgRepo) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// NewStorePG builds a Store backed by PostgreSQL.
func NewStorePG(pool *pgxpool.Pool) Store {
	r := pgRepo{pool: pool}
	return Store{
		Patients:      &patientRepoPG{r},
		Transmissions: &transmissionRepoPG{r},
		Observations:  &observationRepoPG{r},
		Episodes:      &episodeRepoPG{r},
		Parameters:    &parameterRepoPG{r},
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func execBatch(ctx context.Context, q queryable, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := q.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return br.Close()
}

// -- Patient --

type patientRepoPG struct{ pgRepo }

const patientCols = `patient_id, COALESCE(name, ''), date_of_birth, COALESCE(gender, ''),
	anonymized, COALESCE(anonymized_id, ''), created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.PatientID, &p.Name, &p.DateOfBirth, &p.Gender,
		&p.Anonymized, &p.AnonymizedID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (patient_id, name, date_of_birth, gender, anonymized, anonymized_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.PatientID, nullable(p.Name), p.DateOfBirth, nullable(p.Gender),
		p.Anonymized, nullable(p.AnonymizedID)).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, patientID string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE patient_id = $1`, patientID))
}

func (r *patientRepoPG) UpdateDemographics(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET name = $2, date_of_birth = $3, gender = $4, updated_at = NOW()
		WHERE patient_id = $1`,
		p.PatientID, nullable(p.Name), p.DateOfBirth, nullable(p.Gender))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY patient_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Transmission --

type transmissionRepoPG struct{ pgRepo }

const transmissionCols = `id, patient_id, transmission_date, transmission_type,
	COALESCE(message_control_id, ''), COALESCE(sending_application, ''),
	COALESCE(sending_facility, ''), vendor, COALESCE(device_model, ''),
	COALESCE(device_serial, ''), COALESCE(firmware_version, ''),
	COALESCE(source_filename, ''), imported_at`

func scanTransmission(row pgx.Row) (*Transmission, error) {
	var t Transmission
	err := row.Scan(&t.ID, &t.PatientID, &t.TransmissionDate, &t.TransmissionType,
		&t.MessageControlID, &t.SendingApplication, &t.SendingFacility, &t.Vendor,
		&t.DeviceModel, &t.DeviceSerial, &t.FirmwareVersion, &t.SourceFilename,
		&t.ImportedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *transmissionRepoPG) Create(ctx context.Context, t *Transmission) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO transmission (id, patient_id, transmission_date, transmission_type,
			message_control_id, sending_application, sending_facility, vendor,
			device_model, device_serial, firmware_version, source_filename)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING imported_at`,
		t.ID, t.PatientID, t.TransmissionDate, t.TransmissionType,
		nullable(t.MessageControlID), nullable(t.SendingApplication), nullable(t.SendingFacility), t.Vendor,
		nullable(t.DeviceModel), nullable(t.DeviceSerial), nullable(t.FirmwareVersion), nullable(t.SourceFilename),
	).Scan(&t.ImportedAt)
}

func (r *transmissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transmission, error) {
	return scanTransmission(r.conn(ctx).QueryRow(ctx, `SELECT `+transmissionCols+` FROM transmission WHERE id = $1`, id))
}

func (r *transmissionRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Transmission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM transmission WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+transmissionCols+` FROM transmission
		WHERE patient_id = $1 ORDER BY transmission_date DESC, imported_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Transmission
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *transmissionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM transmission WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Observation --

type observationRepoPG struct{ pgRepo }

const observationCols = `id, transmission_id, sequence_number, COALESCE(sub_id, ''),
	vendor_code, COALESCE(loinc_code, ''), variable_name, mapped, value_type,
	value_numeric, value_text, value_blob, error_flag, COALESCE(error_detail, ''),
	COALESCE(unit, ''), COALESCE(reference_range, ''), COALESCE(abnormal_flag, ''),
	COALESCE(result_status, ''), observation_time, quality_flags, severity`

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	err := row.Scan(&o.ID, &o.TransmissionID, &o.SequenceNumber, &o.SubID,
		&o.VendorCode, &o.LOINCCode, &o.VariableName, &o.Mapped, &o.ValueType,
		&o.ValueNumeric, &o.ValueText, &o.ValueBlob, &o.ErrorFlag, &o.ErrorDetail,
		&o.Unit, &o.ReferenceRange, &o.AbnormalFlag,
		&o.ResultStatus, &o.ObservationTime, &o.QualityFlags, &o.Severity)
	if err != nil {
		return nil, notFound(err)
	}
	o.BlobSize = len(o.ValueBlob)
	return &o, nil
}

func (r *observationRepoPG) CreateBatch(ctx context.Context, obs []*Observation) error {
	b := &pgx.Batch{}
	for _, o := range obs {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		flags := o.QualityFlags
		if flags == nil {
			flags = []string{}
		}
		b.Queue(`
			INSERT INTO observation (id, transmission_id, sequence_number, sub_id,
				vendor_code, loinc_code, variable_name, mapped, value_type,
				value_numeric, value_text, value_blob, error_flag, error_detail,
				unit, reference_range, abnormal_flag, result_status,
				observation_time, quality_flags, severity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
			o.ID, o.TransmissionID, o.SequenceNumber, nullable(o.SubID),
			o.VendorCode, nullable(o.LOINCCode), o.VariableName, o.Mapped, o.ValueType,
			o.ValueNumeric, o.ValueText, o.ValueBlob, o.ErrorFlag, nullable(o.ErrorDetail),
			nullable(o.Unit), nullable(o.ReferenceRange), nullable(o.AbnormalFlag), nullable(o.ResultStatus),
			o.ObservationTime, flags, o.Severity)
	}
	return execBatch(ctx, r.conn(ctx), b)
}

func (r *observationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Observation, error) {
	return scanObservation(r.conn(ctx).QueryRow(ctx, `SELECT `+observationCols+` FROM observation WHERE id = $1`, id))
}

func (r *observationRepoPG) ListByTransmission(ctx context.Context, transmissionID uuid.UUID) ([]*Observation, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+observationCols+` FROM observation
		WHERE transmission_id = $1 ORDER BY sequence_number`, transmissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// -- ArrhythmiaEpisode --

type episodeRepoPG struct{ pgRepo }

const episodeCols = `id, transmission_id, patient_id, episode_type, start_time,
	duration_seconds, average_rate, max_rate, egm_observation_id, source`

func (r *episodeRepoPG) CreateBatch(ctx context.Context, eps []*ArrhythmiaEpisode) error {
	b := &pgx.Batch{}
	for _, e := range eps {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO arrhythmia_episode (`+episodeCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.ID, e.TransmissionID, e.PatientID, e.EpisodeType, e.StartTime,
			e.DurationSeconds, e.AverageRate, e.MaxRate, e.EGMObservationID, e.Source)
	}
	return execBatch(ctx, r.conn(ctx), b)
}

func (r *episodeRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ArrhythmiaEpisode, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM arrhythmia_episode WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+episodeCols+` FROM arrhythmia_episode
		WHERE patient_id = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ArrhythmiaEpisode
	for rows.Next() {
		var e ArrhythmiaEpisode
		if err := rows.Scan(&e.ID, &e.TransmissionID, &e.PatientID, &e.EpisodeType, &e.StartTime,
			&e.DurationSeconds, &e.AverageRate, &e.MaxRate, &e.EGMObservationID, &e.Source); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

// -- DeviceParameter --

type parameterRepoPG struct{ pgRepo }

func (r *parameterRepoPG) CreateBatch(ctx context.Context, params []*DeviceParameter) error {
	b := &pgx.Batch{}
	for _, p := range params {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO device_parameter (id, transmission_id, name, value, unit, category, recorded_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			p.ID, p.TransmissionID, p.Name, nullable(p.Value), nullable(p.Unit), p.Category, p.RecordedAt)
	}
	return execBatch(ctx, r.conn(ctx), b)
}

func (r *parameterRepoPG) ListByTransmission(ctx context.Context, transmissionID uuid.UUID) ([]*DeviceParameter, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, transmission_id, name, COALESCE(value, ''), COALESCE(unit, ''), category, recorded_at
		FROM device_parameter WHERE transmission_id = $1 ORDER BY category, name`, transmissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DeviceParameter
	for rows.Next() {
		var p DeviceParameter
		if err := rows.Scan(&p.ID, &p.TransmissionID, &p.Name, &p.Value, &p.Unit, &p.Category, &p.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
