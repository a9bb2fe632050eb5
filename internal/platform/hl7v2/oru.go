package hl7v2

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/pacetrack/pacetrack/internal/platform/validation"
)

// ValueType discriminates the payload carried by an OBX segment.
type ValueType string

const (
	ValueNumeric ValueType = "numeric"
	ValueText    ValueType = "text"
	ValueBinary  ValueType = "binary"
)

// Header carries the MSH fields the importer needs.
type Header struct {
	SendingApp      string
	SendingFacility string
	ControlID       string
	Version         string
	MessageTime     time.Time
}

// PatientDraft is the unsanitized PID content.
type PatientDraft struct {
	ID          string
	FamilyName  string
	GivenName   string
	DateOfBirth *time.Time
	Gender      string
}

// DisplayName renders PID-5 as "Given Family".
func (p PatientDraft) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(p.GivenName) + " " + strings.TrimSpace(p.FamilyName))
}

// ObservationGroup is one OBR and the OBX segments that follow it.
type ObservationGroup struct {
	OrderID      string
	ServiceID    string
	ServiceText  string
	ObservedAt   time.Time
	Observations []ObservationDraft
}

// ObservationDraft is one OBX before translation. Exactly one of Numeric,
// TextValue and Blob carries the value unless DecodeError is set.
type ObservationDraft struct {
	Sequence       int // position within the message, from 1
	SetID          int // OBX-1
	SubID          string
	HL7Type        string
	ValueType      ValueType
	Code           string
	CodeText       string
	CodingSystem   string
	RawValue       string
	Numeric        *float64
	TextValue      string
	Blob           []byte
	Unit           string
	ReferenceRange string
	AbnormalFlag   string
	Status         string
	ObservedAt     time.Time

	// CoercionFailed marks an NM value that was kept as text.
	CoercionFailed bool
	// DecodeError holds the reason an ED payload could not be decoded.
	DecodeError string
}

// ORU is a parsed ORU^R01 message.
type ORU struct {
	Header  Header
	Patient PatientDraft
	Groups  []ObservationGroup
}

// Observations flattens all groups in message order.
func (o *ORU) Observations() []ObservationDraft {
	var out []ObservationDraft
	for _, g := range o.Groups {
		out = append(out, g.Observations...)
	}
	return out
}

// IsRemote reports whether any OBR-4 names a remote transmission.
func (o *ORU) IsRemote() bool {
	for _, g := range o.Groups {
		if strings.Contains(strings.ToUpper(g.ServiceID+" "+g.ServiceText), "REMOTE") {
			return true
		}
	}
	return false
}

// ParseORU extracts header, patient and observation groups from an
// ORU^R01 message. Field-level problems are recorded on the affected
// observation; only a wrong message type or a missing PID fails.
func ParseORU(msg *Message) (*ORU, error) {
	if !strings.HasPrefix(msg.Type, "ORU^R01") {
		return nil, validation.New(validation.KindHL7, "MSH-9", msg.Type, "unsupported message type, expected ORU^R01")
	}

	oru := &ORU{
		Header: Header{
			SendingApp:      msg.SendingApp,
			SendingFacility: msg.SendingFac,
			ControlID:       msg.ControlID,
			Version:         msg.Version,
			MessageTime:     msg.Timestamp,
		},
	}

	pid := msg.GetSegment("PID")
	if pid == nil {
		return nil, validation.New(validation.KindHL7, "PID", "", "missing required PID segment")
	}
	oru.Patient = PatientDraft{
		ID:         pid.GetComponent(3, 1),
		FamilyName: pid.GetComponent(5, 1),
		GivenName:  pid.GetComponent(5, 2),
		Gender:     pid.GetComponent(8, 1),
	}
	if dob, err := ParseTimestamp(pid.GetComponent(7, 1)); err == nil {
		oru.Patient.DateOfBirth = &dob
	}

	var current *ObservationGroup
	position := 0
	for i := range msg.Segments {
		seg := &msg.Segments[i]
		switch seg.Name {
		case "OBR":
			oru.Groups = append(oru.Groups, parseOBR(seg, msg.Timestamp))
			current = &oru.Groups[len(oru.Groups)-1]
		case "OBX":
			if current == nil {
				oru.Groups = append(oru.Groups, ObservationGroup{ObservedAt: msg.Timestamp})
				current = &oru.Groups[len(oru.Groups)-1]
			}
			position++
			current.Observations = append(current.Observations, parseOBX(msg, seg, position, current.ObservedAt))
		}
	}
	return oru, nil
}

func parseOBR(seg *Segment, fallback time.Time) ObservationGroup {
	g := ObservationGroup{
		OrderID:     seg.GetComponent(2, 1),
		ServiceID:   seg.GetComponent(4, 1),
		ServiceText: seg.GetComponent(4, 2),
		ObservedAt:  fallback,
	}
	if ts, err := ParseTimestamp(seg.GetComponent(7, 1)); err == nil {
		g.ObservedAt = ts
	}
	return g
}

func parseOBX(msg *Message, seg *Segment, position int, groupTime time.Time) ObservationDraft {
	d := ObservationDraft{
		Sequence:       position,
		SubID:          seg.GetField(4),
		HL7Type:        strings.ToUpper(seg.GetComponent(2, 1)),
		Code:           strings.TrimSpace(seg.GetComponent(3, 1)),
		CodeText:       seg.GetComponent(3, 2),
		CodingSystem:   seg.GetComponent(3, 3),
		RawValue:       seg.GetField(5),
		Unit:           seg.GetComponent(6, 1),
		ReferenceRange: seg.GetComponent(7, 1),
		AbnormalFlag:   seg.GetComponent(8, 1),
		Status:         seg.GetComponent(11, 1),
		ObservedAt:     groupTime,
	}
	if n, err := strconv.Atoi(strings.TrimSpace(seg.GetField(1))); err == nil {
		d.SetID = n
	}
	if ts, err := ParseTimestamp(seg.GetComponent(14, 1)); err == nil {
		d.ObservedAt = ts
	}

	switch d.HL7Type {
	case "NM", "SN":
		text := strings.TrimSpace(msg.Unescape(d.RawValue))
		if d.HL7Type == "SN" {
			text = structuredNumber(seg.GetComponents(5), text)
		}
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			d.ValueType = ValueNumeric
			d.Numeric = &v
		} else {
			d.ValueType = ValueText
			d.TextValue = text
			d.CoercionFailed = true
		}
	case "ED":
		d.ValueType = ValueBinary
		blob, err := decodeED(seg.GetComponents(5))
		if err != nil {
			d.DecodeError = err.Error()
		} else {
			d.Blob = blob
		}
	default:
		d.ValueType = ValueText
		d.TextValue = msg.Unescape(d.RawValue)
	}
	return d
}

// structuredNumber returns the number of an SN value
// (comparator^num1^separator^num2). Only a bare "=" comparator with no
// second number yields a plain number; other forms keep the whole text.
func structuredNumber(comps []string, text string) string {
	if len(comps) < 2 {
		return text
	}
	comparator := strings.TrimSpace(comps[0])
	if comparator != "" && comparator != "=" {
		return text
	}
	for _, rest := range comps[2:] {
		if strings.TrimSpace(rest) != "" {
			return text
		}
	}
	return strings.TrimSpace(comps[1])
}

// decodeED extracts the base64 data of an ED value. The data follows the
// encoding component (source^type^subtype^Base64^data); a bare value is
// decoded whole.
func decodeED(comps []string) ([]byte, error) {
	data, marked := "", false
	for i, c := range comps {
		if strings.EqualFold(strings.TrimSpace(c), "base64") {
			marked = true
			if i+1 < len(comps) {
				data = comps[i+1]
			}
		}
	}
	if !marked && len(comps) > 0 {
		data = comps[len(comps)-1]
	}
	data = strings.Join(strings.Fields(data), "")
	if data == "" {
		return nil, errors.New("empty ED payload")
	}
	blob, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		blob, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}
