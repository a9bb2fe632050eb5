package transmission

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pacetrack/pacetrack/internal/platform/cache"
	"github.com/pacetrack/pacetrack/internal/platform/hl7v2"
	"github.com/pacetrack/pacetrack/internal/platform/validation"
)

const (
	testMSH = "MSH|^~\\&|CARELINK|MEDTRONIC|PACETRACK|CLINIC|20240115150000||ORU^R01|MSG00001|P|2.5.1\r"
	testPID = "PID|1||PT12345^^^CLINIC||Doe^John||19600101|M\r"
	testOBR = "OBR|1|ORD001||REMOTE^Remote Interrogation|||20240115140000\r"
)

const batteryMessage = testMSH + testPID + testOBR +
	"OBX|1|NM|MDC_BATTERY_VOLTAGE^Battery Voltage^MDC||2.65|V|||||F"

func newTestService(anonymize bool) (*Service, *mockStore, *mockTx) {
	store := newMockStore()
	tx := &mockTx{}
	svc := NewService(store.Store(), tx, Deps{Anonymize: anonymize, Logger: zerolog.Nop()})
	return svc, store, tx
}

// countParses wraps the parser so tests can tell whether it ran.
func countParses(svc *Service) *int {
	calls := 0
	svc.parse = func(text string) (*hl7v2.Message, error) {
		calls++
		return hl7v2.Parse(text)
	}
	return &calls
}

func TestImport_BatteryVoltage(t *testing.T) {
	svc, store, tx := newTestService(false)
	parses := countParses(svc)

	res, err := svc.Import(context.Background(), []byte(batteryMessage), "battery.hl7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *parses != 1 {
		t.Errorf("expected 1 parse, got %d", *parses)
	}
	if tx.calls != 1 {
		t.Errorf("expected 1 transaction, got %d", tx.calls)
	}
	if !res.PatientCreated {
		t.Error("expected patient to be created")
	}

	p, ok := store.patients.store["PT12345"]
	if !ok {
		t.Fatal("expected patient PT12345 to be stored")
	}
	if p.Name != "John Doe" {
		t.Errorf("expected name John Doe, got %q", p.Name)
	}

	tr := res.Transmission
	if tr.TransmissionType != TypeRemote {
		t.Errorf("expected remote, got %s", tr.TransmissionType)
	}
	if tr.Vendor != "medtronic" {
		t.Errorf("expected medtronic, got %s", tr.Vendor)
	}
	if tr.SourceFilename != "battery.hl7" {
		t.Errorf("expected battery.hl7, got %q", tr.SourceFilename)
	}
	if _, ok := store.transmissions.store[tr.ID]; !ok {
		t.Error("expected transmission to be stored")
	}

	if len(store.observations.store) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(store.observations.store))
	}
	o := store.observations.store[0]
	if o.VariableName != "battery_voltage" || !o.Mapped {
		t.Errorf("expected mapped battery_voltage, got %q mapped=%v", o.VariableName, o.Mapped)
	}
	if o.ValueNumeric == nil || *o.ValueNumeric != 2.65 {
		t.Errorf("expected 2.65, got %v", o.ValueNumeric)
	}
	if o.Unit != "V" {
		t.Errorf("expected unit V, got %q", o.Unit)
	}
	if o.Severity != "normal" || len(o.QualityFlags) != 0 {
		t.Errorf("expected normal with no flags, got %s %v", o.Severity, o.QualityFlags)
	}
	if o.ErrorFlag {
		t.Errorf("unexpected error flag: %s", o.ErrorDetail)
	}
	if o.TransmissionID != tr.ID {
		t.Error("expected observation to belong to the transmission")
	}
}

func TestImport_RejectsInjectedPatientID(t *testing.T) {
	svc, store, tx := newTestService(false)
	msg := testMSH +
		"PID|1||PT123'; DROP TABLE patients; --^^^CLINIC||Doe^John||19600101|M\r" +
		testOBR +
		"OBX|1|NM|MDC_BATTERY_VOLTAGE^Battery Voltage^MDC||2.65|V|||||F"

	_, err := svc.Import(context.Background(), []byte(msg), "")
	if !errors.Is(err, validation.ErrPatientID) {
		t.Fatalf("expected patient id validation error, got %v", err)
	}
	ve, ok := validation.AsValidationError(err)
	if !ok || ve.Reason != "contains invalid characters" {
		t.Errorf("expected 'contains invalid characters', got %v", err)
	}
	if len(store.patients.store) != 0 {
		t.Errorf("expected no patient, got %d", len(store.patients.store))
	}
	if len(store.transmissions.store) != 0 || len(store.observations.store) != 0 {
		t.Error("expected nothing persisted")
	}
	if tx.calls != 0 {
		t.Errorf("expected no transaction, got %d", tx.calls)
	}
}

func TestImport_OversizedMessageNeverParsed(t *testing.T) {
	svc, store, _ := newTestService(false)
	parses := countParses(svc)

	raw := append([]byte(batteryMessage+"\r"), bytes.Repeat([]byte("A"), 51*1024*1024)...)
	_, err := svc.Import(context.Background(), raw, "")
	if !errors.Is(err, validation.ErrHL7Validation) {
		t.Fatalf("expected hl7 validation error, got %v", err)
	}
	ve, _ := validation.AsValidationError(err)
	if ve == nil || ve.Reason != "message too large" {
		t.Errorf("expected 'message too large', got %v", err)
	}
	if *parses != 0 {
		t.Errorf("expected parser not to run, got %d calls", *parses)
	}
	if len(store.patients.store) != 0 {
		t.Error("expected no patient")
	}
}

func TestImport_RejectsNonORU(t *testing.T) {
	svc, _, _ := newTestService(false)
	msg := strings.Replace(batteryMessage, "ORU^R01", "ADT^A01", 1)

	_, err := svc.Import(context.Background(), []byte(msg), "")
	if !errors.Is(err, validation.ErrHL7Validation) {
		t.Fatalf("expected hl7 validation error, got %v", err)
	}
}

func TestImport_FieldLevelFailuresStayOnObservation(t *testing.T) {
	svc, store, _ := newTestService(false)
	msg := testMSH + testPID + testOBR +
		"OBX|1|NM|MDC_BATTERY_VOLTAGE^Battery Voltage^MDC||2.65|V|||||F\r" +
		"OBX|2|NM|MDC_HR_AVERAGE^Average HR^MDC||abc|bpm|||||F\r" +
		"OBX|3|NM|VND_0001^Vendor Field^99VND||42||||||F"

	res, err := svc.Import(context.Background(), []byte(msg), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.observations.store) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(store.observations.store))
	}
	if res.FieldErrors != 1 {
		t.Errorf("expected 1 field error, got %d", res.FieldErrors)
	}
	if res.Mapped != 2 || res.Unmapped != 1 {
		t.Errorf("expected 2 mapped / 1 unmapped, got %d / %d", res.Mapped, res.Unmapped)
	}

	coerced := store.observations.store[1]
	if !coerced.ErrorFlag || coerced.ErrorDetail == "" {
		t.Errorf("expected error flag with detail, got %+v", coerced)
	}
	if coerced.ValueText == nil || *coerced.ValueText != "abc" {
		t.Errorf("expected raw text kept, got %v", coerced.ValueText)
	}
	if coerced.ValueNumeric != nil {
		t.Error("expected no numeric value")
	}

	unmapped := store.observations.store[2]
	if unmapped.Mapped || unmapped.VariableName != "VND_0001" {
		t.Errorf("expected passthrough VND_0001, got %q mapped=%v", unmapped.VariableName, unmapped.Mapped)
	}
	if unmapped.ValueNumeric == nil || *unmapped.ValueNumeric != 42 {
		t.Errorf("expected 42, got %v", unmapped.ValueNumeric)
	}
}

func TestImport_EpisodesAndParameters(t *testing.T) {
	svc, store, _ := newTestService(false)
	msg := testMSH + testPID + testOBR +
		"OBX|1|ST|MDC_DEVICE_MODEL^Device Model^MDC||Azure XT DR||||||F\r" +
		"OBX|2|ST|MDC_DEVICE_SERIAL^Device Serial^MDC||RNB123456||||||F\r" +
		"OBX|3|ST|MDC_MODE^Pacing Mode^MDC||DDD||||||F\r" +
		"OBX|4|ST|MDC_EPISODE_TYPE^Episode Type^MDC|1|AF||||||F\r" +
		"OBX|5|NM|MDC_EPISODE_DURATION^Episode Duration^MDC|1|2|min|||||F\r" +
		"OBX|6|NM|MDC_EPISODE_RATE_AVG^Episode Rate^MDC|1|150|bpm|||||F\r" +
		"OBX|7|ST|MDC_EPISODE_TYPE^Episode Type^MDC|2|VT||||||F"

	res, err := svc.Import(context.Background(), []byte(msg), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Transmission.DeviceModel != "Azure XT DR" {
		t.Errorf("expected device model Azure XT DR, got %q", res.Transmission.DeviceModel)
	}
	if res.Transmission.DeviceSerial != "RNB123456" {
		t.Errorf("expected serial RNB123456, got %q", res.Transmission.DeviceSerial)
	}

	if len(store.episodes.store) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(store.episodes.store))
	}
	af := store.episodes.store[0]
	if af.EpisodeType != "AF" {
		t.Errorf("expected AF, got %q", af.EpisodeType)
	}
	if af.DurationSeconds == nil || *af.DurationSeconds != 120 {
		t.Errorf("expected 120 s, got %v", af.DurationSeconds)
	}
	if af.AverageRate == nil || *af.AverageRate != 150 {
		t.Errorf("expected 150 bpm, got %v", af.AverageRate)
	}
	if af.MaxRate != nil {
		t.Errorf("expected no max rate, got %v", *af.MaxRate)
	}
	if af.Source != SourceDevice || af.PatientID != "PT12345" {
		t.Errorf("unexpected episode %+v", af)
	}
	if store.episodes.store[1].EpisodeType != "VT" {
		t.Errorf("expected VT, got %q", store.episodes.store[1].EpisodeType)
	}

	categories := map[string]string{}
	for _, p := range store.parameters.store {
		categories[p.Name] = p.Category
	}
	if len(categories) != 3 {
		t.Fatalf("expected 3 parameters, got %v", categories)
	}
	if categories["pacing_mode"] != "brady" {
		t.Errorf("expected pacing_mode brady, got %q", categories["pacing_mode"])
	}
	if categories["device_model"] != "device" || categories["device_serial"] != "device" {
		t.Errorf("expected device category, got %v", categories)
	}
}

func TestImport_ExistingPatientUnchanged(t *testing.T) {
	svc, store, _ := newTestService(false)
	if _, err := svc.Import(context.Background(), []byte(batteryMessage), ""); err != nil {
		t.Fatalf("first import: %v", err)
	}
	renamed := strings.Replace(batteryMessage, "Doe^John", "Roe^Jane", 1)
	res, err := svc.Import(context.Background(), []byte(renamed), "")
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if res.PatientCreated {
		t.Error("expected existing patient to be reused")
	}
	if len(store.patients.store) != 1 || len(store.transmissions.store) != 2 {
		t.Errorf("expected 1 patient / 2 transmissions, got %d / %d",
			len(store.patients.store), len(store.transmissions.store))
	}
	if store.patients.store["PT12345"].Name != "John Doe" {
		t.Errorf("expected name unchanged, got %q", store.patients.store["PT12345"].Name)
	}
}

func TestImport_Anonymize(t *testing.T) {
	svc, store, _ := newTestService(true)
	if _, err := svc.Import(context.Background(), []byte(batteryMessage), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := store.patients.store["PT12345"]
	if p == nil {
		t.Fatal("expected patient")
	}
	if !p.Anonymized || p.AnonymizedID != "Patient_345" {
		t.Errorf("expected Patient_345, got %q anonymized=%v", p.AnonymizedID, p.Anonymized)
	}
	if p.Name != "" {
		t.Errorf("expected name not stored, got %q", p.Name)
	}
	if p.DisplayID() != "Patient_345" {
		t.Errorf("expected display id Patient_345, got %q", p.DisplayID())
	}
}

func TestImport_InvalidNameDroppedWithWarning(t *testing.T) {
	svc, store, _ := newTestService(false)
	msg := strings.Replace(batteryMessage, "Doe^John", "Doe<script>^John", 1)

	res, err := svc.Import(context.Background(), []byte(msg), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.patients.store["PT12345"].Name != "" {
		t.Errorf("expected name dropped, got %q", store.patients.store["PT12345"].Name)
	}
	if len(res.Warnings) != 1 || !strings.HasPrefix(res.Warnings[0], "patient name dropped") {
		t.Errorf("expected one name warning, got %v", res.Warnings)
	}
}

func TestImport_InvalidatesTrendCache(t *testing.T) {
	store := newMockStore()
	mem := cache.NewMemory()
	svc := NewService(store.Store(), &mockTx{}, Deps{Cache: mem, Logger: zerolog.Nop()})
	ctx := context.Background()

	key := cache.TrendKey("PT12345", "battery_voltage", "")
	other := cache.TrendKey("PT99999", "battery_voltage", "")
	for _, k := range []string{key, other} {
		if err := mem.Set(ctx, k, []float64{2.7}, 0); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}

	if _, err := svc.Import(ctx, []byte(batteryMessage), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []float64
	if err := mem.Get(ctx, key, &got); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("expected patient trend evicted, got %v", err)
	}
	if err := mem.Get(ctx, other, &got); err != nil {
		t.Errorf("expected other patient kept, got %v", err)
	}
}

type mockRefresher struct {
	patients []string
	err      error
}

func (m *mockRefresher) Refresh(_ context.Context, patientID string) (int, error) {
	m.patients = append(m.patients, patientID)
	return 1, m.err
}

func TestImport_RefreshesTrendSnapshots(t *testing.T) {
	store := newMockStore()
	trends := &mockRefresher{}
	svc := NewService(store.Store(), &mockTx{}, Deps{Trends: trends, Logger: zerolog.Nop()})
	ctx := context.Background()

	res, err := svc.Import(ctx, []byte(batteryMessage), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.DeleteTransmission(ctx, res.Transmission.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trends.patients) != 2 || trends.patients[0] != "PT12345" || trends.patients[1] != "PT12345" {
		t.Errorf("expected a refresh after import and after delete, got %v", trends.patients)
	}
}

func TestImport_RefreshFailureKeepsImport(t *testing.T) {
	store := newMockStore()
	trends := &mockRefresher{err: errors.New("snapshot table locked")}
	svc := NewService(store.Store(), &mockTx{}, Deps{Trends: trends, Logger: zerolog.Nop()})

	res, err := svc.Import(context.Background(), []byte(batteryMessage), "")
	if err != nil {
		t.Fatalf("expected the import to succeed, got %v", err)
	}
	if _, ok := store.transmissions.store[res.Transmission.ID]; !ok {
		t.Error("expected transmission to be stored")
	}
}

func TestCorrectDemographics(t *testing.T) {
	svc, store, _ := newTestService(false)
	ctx := context.Background()
	if _, err := svc.Import(ctx, []byte(batteryMessage), ""); err != nil {
		t.Fatalf("import: %v", err)
	}

	p, err := svc.CorrectDemographics(ctx, "PT12345", "Jonathan Doe", nil, "m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Jonathan Doe" || p.Gender != "M" {
		t.Errorf("expected Jonathan Doe / M, got %q / %q", p.Name, p.Gender)
	}
	if store.patients.store["PT12345"].DateOfBirth != nil {
		t.Error("expected date of birth cleared")
	}

	if _, err := svc.CorrectDemographics(ctx, "PT12345", "Robert'); DROP TABLE--<", nil, ""); !errors.Is(err, validation.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := svc.CorrectDemographics(ctx, "NOPE", "Jane", nil, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTransmission(t *testing.T) {
	svc, store, _ := newTestService(false)
	ctx := context.Background()
	res, err := svc.Import(ctx, []byte(batteryMessage), "")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := svc.DeleteTransmission(ctx, res.Transmission.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.transmissions.store) != 0 {
		t.Error("expected transmission removed")
	}
	if err := svc.DeleteTransmission(ctx, res.Transmission.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAnonymizedID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"PT12345", "Patient_345"},
		{"AB", "Patient_AB"},
		{"XYZ", "Patient_XYZ"},
	}
	for _, tt := range tests {
		if got := anonymizedID(tt.in); got != tt.want {
			t.Errorf("anonymizedID(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
