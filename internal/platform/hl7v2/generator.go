package hl7v2

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// OBXSpec describes one observation to emit. ValueType is the HL7 OBX-2
// code: NM, ST, TX or ED. For ED, Value is ignored and Blob is encoded.
type OBXSpec struct {
	ValueType  string
	Code       string
	Text       string
	System     string
	SubID      string
	Value      string
	Blob       []byte
	Unit       string
	ObservedAt time.Time
}

// OBRSpec opens an observation group.
type OBRSpec struct {
	OrderID      string
	ServiceID    string
	ServiceText  string
	ObservedAt   time.Time
	Observations []OBXSpec
}

// ORURequest holds everything needed to build an ORU^R01 message.
type ORURequest struct {
	SendingApp      string
	SendingFacility string
	MessageTime     time.Time
	ControlID       string
	PatientID       string
	FamilyName      string
	GivenName       string
	BirthDate       time.Time
	Gender          string
	Orders          []OBRSpec
}

// GenerateORU builds an ORU^R01 message with the conventional delimiters
// and CR segment terminators.
func GenerateORU(req ORURequest) ([]byte, error) {
	if req.PatientID == "" {
		return nil, fmt.Errorf("hl7v2: patient id is required")
	}
	if req.MessageTime.IsZero() {
		req.MessageTime = time.Now().UTC()
	}
	if req.ControlID == "" {
		req.ControlID = "MSG" + req.MessageTime.Format("20060102150405")
	}

	segments := []string{
		buildMSH(req),
		buildPID(req),
	}
	for i, order := range req.Orders {
		segments = append(segments, buildOBR(i+1, order))
		for j, obs := range order.Observations {
			segments = append(segments, buildOBX(j+1, obs))
		}
	}
	return []byte(strings.Join(segments, "\r") + "\r"), nil
}

func buildMSH(req ORURequest) string {
	return fmt.Sprintf("MSH|^~\\&|%s|%s|PACETRACK|CLINIC|%s||ORU^R01|%s|P|2.5.1",
		escapeHL7(req.SendingApp), escapeHL7(req.SendingFacility),
		formatTS(req.MessageTime), escapeHL7(req.ControlID))
}

func buildPID(req ORURequest) string {
	dob := ""
	if !req.BirthDate.IsZero() {
		dob = req.BirthDate.Format("20060102")
	}
	return fmt.Sprintf("PID|1||%s||%s^%s||%s|%s",
		escapeHL7(req.PatientID), escapeHL7(req.FamilyName), escapeHL7(req.GivenName),
		dob, escapeHL7(req.Gender))
}

func buildOBR(setID int, o OBRSpec) string {
	return fmt.Sprintf("OBR|%d|%s||%s^%s|||%s",
		setID, escapeHL7(o.OrderID), escapeHL7(o.ServiceID), escapeHL7(o.ServiceText), formatTS(o.ObservedAt))
}

func buildOBX(setID int, obs OBXSpec) string {
	valueType := obs.ValueType
	if valueType == "" {
		valueType = "NM"
	}

	observationID := ""
	if obs.Code != "" {
		observationID = escapeHL7(obs.Code) + "^" + escapeHL7(obs.Text) + "^" + escapeHL7(obs.System)
	}

	value := escapeHL7(obs.Value)
	if valueType == "ED" {
		value = EncodeED(obs.Blob)
	}

	return fmt.Sprintf("OBX|%d|%s|%s|%s|%s|%s|||||F|||%s",
		setID, valueType, observationID, escapeHL7(obs.SubID), value, escapeHL7(obs.Unit), formatTS(obs.ObservedAt))
}

// EncodeED renders a binary payload as an ED value.
func EncodeED(blob []byte) string {
	return "^Device^Application^Base64^" + base64.StdEncoding.EncodeToString(blob)
}

func formatTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("20060102150405")
}

// escapeHL7 escapes HL7 special characters in a string.
//
//	\F\ = |  (field separator)
//	\S\ = ^  (component separator)
//	\R\ = ~  (repetition separator)
//	\E\ = \  (escape character)
//	\T\ = &  (subcomponent separator)
func escapeHL7(s string) string {
	// Escape backslash first to avoid double-escaping
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}
