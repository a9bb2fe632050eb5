package hl7v2

import (
	"testing"
)

const sampleORU = "MSH|^~\\&|CARELINK|MEDTRONIC|PACETRACK|CLINIC|20240115150000||ORU^R01|MSG00002|P|2.5.1\r" +
	"PID|1||PT12345^^^CLINIC||Doe^John||19600101|M\r" +
	"OBR|1|ORD001||REMOTE^Remote Interrogation|||20240115140000\r" +
	"OBX|1|NM|73990-7^Battery Voltage^LN||2.65|V|||||F\r" +
	"OBX|2|NM|8889-8^Atrial Lead Impedance^LN||520|Ohm|||||F"

func TestParse_Header(t *testing.T) {
	msg, err := Parse(sampleORU)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type != "ORU^R01" {
		t.Errorf("expected Type 'ORU^R01', got %q", msg.Type)
	}
	if msg.ControlID != "MSG00002" {
		t.Errorf("expected ControlID 'MSG00002', got %q", msg.ControlID)
	}
	if msg.Version != "2.5.1" {
		t.Errorf("expected Version '2.5.1', got %q", msg.Version)
	}
	if msg.SendingApp != "CARELINK" {
		t.Errorf("expected SendingApp 'CARELINK', got %q", msg.SendingApp)
	}
	if msg.SendingFac != "MEDTRONIC" {
		t.Errorf("expected SendingFac 'MEDTRONIC', got %q", msg.SendingFac)
	}
	if msg.Timestamp.Year() != 2024 || msg.Timestamp.Month() != 1 || msg.Timestamp.Day() != 15 {
		t.Errorf("unexpected timestamp: %v", msg.Timestamp)
	}
	if len(msg.GetSegments("OBX")) != 2 {
		t.Errorf("expected 2 OBX segments, got %d", len(msg.GetSegments("OBX")))
	}
}

func TestParse_PatientFields(t *testing.T) {
	msg, err := Parse(sampleORU)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.PatientID() != "PT12345" {
		t.Errorf("expected patient id 'PT12345', got %q", msg.PatientID())
	}
	family, given := msg.PatientName()
	if family != "Doe" || given != "John" {
		t.Errorf("expected Doe/John, got %q/%q", family, given)
	}
}

func TestParse_LineEndings(t *testing.T) {
	for name, sep := range map[string]string{"crlf": "\r\n", "lf": "\n", "cr": "\r"} {
		t.Run(name, func(t *testing.T) {
			text := "MSH|^~\\&|A|B|C|D|20240101||ORU^R01|1|P|2.5" + sep + "PID|1||X1" + sep
			msg, err := Parse(text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(msg.Segments) != 2 {
				t.Errorf("expected 2 segments, got %d", len(msg.Segments))
			}
		})
	}
}

func TestParse_DeclaredDelimiters(t *testing.T) {
	text := "MSH#*@/$#APP#FAC#R#RF#20240101##ORU*R01#C1#P#2.5\rPID#1##ID9*X##Roe*Ann\rOBX#1#NM#CODE*Name*LN##1.5@2.5#V"
	msg, err := Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Delims.Field != '#' || msg.Delims.Component != '*' || msg.Delims.Repetition != '@' {
		t.Fatalf("unexpected delimiters: %+v", msg.Delims)
	}
	if msg.Type != "ORU^R01" {
		t.Errorf("expected type ORU^R01, got %q", msg.Type)
	}
	if msg.PatientID() != "ID9" {
		t.Errorf("expected patient id 'ID9', got %q", msg.PatientID())
	}
	obx := msg.GetSegment("OBX")
	if obx.GetComponent(3, 2) != "Name" {
		t.Errorf("expected component 'Name', got %q", obx.GetComponent(3, 2))
	}
	if len(obx.Fields[4].Repeats) != 2 {
		t.Errorf("expected 2 repetitions in OBX-5, got %d", len(obx.Fields[4].Repeats))
	}
}

func TestParse_MissingTrailingFieldsAndEmptyComponents(t *testing.T) {
	text := "MSH|^~\\&|A\rPID|1||ID1\rOBX|1||^^^||"
	msg, err := Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ControlID != "" || msg.Version != "" {
		t.Errorf("expected empty header fields, got %q %q", msg.ControlID, msg.Version)
	}
	obx := msg.GetSegment("OBX")
	if obx.GetField(25) != "" {
		t.Error("expected out-of-range field to be empty")
	}
	if obx.GetComponent(3, 2) != "" || len(obx.GetComponents(3)) != 4 {
		t.Errorf("expected 4 empty components, got %v", obx.GetComponents(3))
	}
	if obx.GetComponent(0, 1) != "" || obx.GetComponent(3, 0) != "" {
		t.Error("expected zero indices to read as empty")
	}
}

func TestParse_Escapes(t *testing.T) {
	text := "MSH|^~\\&|A|B|C|D|20240101||ORU^R01|1|P|2.5\rPID|1||ID1\rOBX|1|ST|N^Note||a\\F\\b\\S\\c\\T\\d\\R\\e\\E\\f\\X41\\"
	msg, err := Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obx := msg.GetSegment("OBX")
	if got := msg.Unescape(obx.GetField(5)); got != "a|b^c&d~e\\fA" {
		t.Errorf("unexpected unescaped value %q", got)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty message")
	}
	if _, err := Parse("PID|1||X"); err == nil {
		t.Error("expected error when MSH is not first")
	}
	if _, err := Parse("MSH"); err == nil {
		t.Error("expected error for truncated MSH")
	}
}

func TestParse_Latin1Charset(t *testing.T) {
	// 0xE9 is é in ISO-8859-1.
	text := "MSH|^~\\&|A|B|C|D|20240101||ORU^R01|1|P|2.5||||||8859/1\rPID|1||ID1||Gar\xe9^Jos\xe9"
	msg, err := Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.CharacterSet != "8859/1" {
		t.Errorf("expected charset 8859/1, got %q", msg.CharacterSet)
	}
	family, given := msg.PatientName()
	if family != "Garé" || given != "José" {
		t.Errorf("expected decoded names, got %q %q", family, given)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		year    int
		hour    int
		wantErr bool
	}{
		{"20240115143025", 2024, 14, false},
		{"202401151430", 2024, 14, false},
		{"20240115", 2024, 0, false},
		{"20240115143025.123", 2024, 14, false},
		{"20240115143025-0500", 2024, 19, false},
		{"2024", 2024, 0, false},
		{"abc", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		ts, err := ParseTimestamp(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if ts.UTC().Year() != tt.year || ts.UTC().Hour() != tt.hour {
			t.Errorf("%q: got %v", tt.in, ts.UTC())
		}
	}
}
