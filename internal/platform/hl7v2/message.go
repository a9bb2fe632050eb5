package hl7v2

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Delimiters are the separators declared by MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	SubComponent byte
}

// DefaultDelimiters is the conventional |^~\& set.
var DefaultDelimiters = Delimiters{Field: '|', Component: '^', Repetition: '~', Escape: '\\', SubComponent: '&'}

// Message represents a parsed HL7v2 message.
type Message struct {
	Type         string    // MSH-9 (e.g. "ORU^R01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	CharacterSet string    // MSH-18
	Delims       Delimiters
	Segments     []Segment
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string
	Fields []Field
}

// Field holds the raw field text plus its decoded components and repetitions.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses a segment-terminated HL7v2 message. Delimiters come from the
// MSH segment; missing trailing fields read as empty.
func Parse(text string) (*Message, error) {
	if text == "" {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text = normalizeTerminators(text)
	if !strings.HasPrefix(text, "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH")
	}

	decoded, charset, err := decodeCharset(text)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(decoded, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	delims, err := readDelimiters(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{Delims: delims, CharacterSet: charset}
	for _, line := range lines {
		seg, ok := parseSegment(line, delims)
		if !ok {
			continue
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msg.extractMSHFields()
	return msg, nil
}

func normalizeTerminators(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	return strings.ReplaceAll(text, "\n", "\r")
}

// readDelimiters reads MSH-1 and MSH-2. Absent encoding characters keep
// their conventional defaults.
func readDelimiters(msh string) (Delimiters, error) {
	if len(msh) < 4 {
		return Delimiters{}, fmt.Errorf("hl7v2: MSH segment too short")
	}
	d := DefaultDelimiters
	d.Field = msh[3]
	if isAlnum(d.Field) {
		return Delimiters{}, fmt.Errorf("hl7v2: invalid field separator %q", d.Field)
	}

	enc := msh[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	slots := []*byte{&d.Component, &d.Repetition, &d.Escape, &d.SubComponent}
	for i := 0; i < len(enc) && i < len(slots); i++ {
		*slots[i] = enc[i]
	}
	return d, nil
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// parseSegment splits one segment line. Lines shorter than a segment tag
// are skipped.
func parseSegment(line string, d Delimiters) (Segment, bool) {
	if len(line) < 3 {
		return Segment{}, false
	}

	if strings.HasPrefix(line, "MSH") {
		seg := Segment{Name: "MSH"}
		sep := string(d.Field)
		// MSH-1 is the separator itself, MSH-2 the encoding characters.
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}, Repeats: [][]string{{sep}}})
		if len(line) <= 4 {
			return seg, true
		}
		parts := strings.Split(line[4:], sep)
		enc := parts[0]
		seg.Fields = append(seg.Fields, Field{Value: enc, Components: []string{enc}, Repeats: [][]string{{enc}}})
		for _, part := range parts[1:] {
			seg.Fields = append(seg.Fields, parseField(part, d))
		}
		return seg, true
	}

	parts := strings.Split(line, string(d.Field))
	seg := Segment{Name: parts[0]}
	for _, part := range parts[1:] {
		seg.Fields = append(seg.Fields, parseField(part, d))
	}
	return seg, true
}

// parseField splits repetitions then components, decoding escapes in each
// component.
func parseField(raw string, d Delimiters) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(d.Repetition)) {
		comps := strings.Split(rep, string(d.Component))
		for i := range comps {
			comps[i] = unescape(comps[i], d)
		}
		f.Repeats = append(f.Repeats, comps)
	}
	f.Components = f.Repeats[0]
	return f
}

// unescape decodes \F\ \S\ \T\ \R\ \E\ and \Xhh..\ sequences. Unknown
// sequences are kept verbatim.
func unescape(s string, d Delimiters) string {
	if strings.IndexByte(s, d.Escape) < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != d.Escape {
			b.WriteByte(s[i])
			continue
		}
		end := strings.IndexByte(s[i+1:], d.Escape)
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		seq := s[i+1 : i+1+end]
		switch {
		case seq == "F":
			b.WriteByte(d.Field)
		case seq == "S":
			b.WriteByte(d.Component)
		case seq == "T":
			b.WriteByte(d.SubComponent)
		case seq == "R":
			b.WriteByte(d.Repetition)
		case seq == "E":
			b.WriteByte(d.Escape)
		case strings.HasPrefix(seq, "X") && len(seq)%2 == 1:
			if !writeHex(&b, seq[1:]) {
				b.WriteString(s[i : i+end+2])
			}
		default:
			b.WriteString(s[i : i+end+2])
		}
		i += end + 1
	}
	return b.String()
}

func writeHex(b *strings.Builder, hex string) bool {
	out := make([]byte, 0, len(hex)/2)
	for j := 0; j+1 < len(hex); j += 2 {
		v, err := strconv.ParseUint(hex[j:j+2], 16, 8)
		if err != nil {
			return false
		}
		out = append(out, byte(v))
	}
	b.Write(out)
	return true
}

// Unescape decodes escape sequences in a raw field value using the
// message's delimiters.
func (m *Message) Unescape(s string) string {
	return unescape(s, m.Delims)
}

func (m *Message) extractMSHFields() {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return
	}

	m.SendingApp = msh.GetComponent(3, 1)
	m.SendingFac = msh.GetComponent(4, 1)
	m.ReceivingApp = msh.GetComponent(5, 1)
	m.ReceivingFac = msh.GetComponent(6, 1)

	if ts, err := ParseTimestamp(msh.GetComponent(7, 1)); err == nil {
		m.Timestamp = ts
	}

	m.Type = msh.GetComponent(9, 1)
	if trigger := msh.GetComponent(9, 2); trigger != "" {
		m.Type += "^" + trigger
	}
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetComponent(12, 1)
	if m.CharacterSet == "" {
		m.CharacterSet = msh.GetField(18)
	}
}

// ParseTimestamp parses an HL7 DTM value. Precision from YYYY up to
// YYYYMMDDHHMMSS is accepted, with optional fractional seconds and a
// +/-ZZZZ offset. Values without an offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := time.UTC
	if i := strings.LastIndexAny(s, "+-"); i >= 4 {
		sign, zone := s[i], s[i+1:]
		s = s[:i]
		if len(zone) == 4 {
			h, errH := strconv.Atoi(zone[:2])
			mi, errM := strconv.Atoi(zone[2:])
			if errH == nil && errM == nil {
				offset := h*3600 + mi*60
				if sign == '-' {
					offset = -offset
				}
				loc = time.FixedZone("", offset)
			}
		}
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}

	layouts := map[int]string{
		14: "20060102150405",
		12: "200601021504",
		10: "2006010215",
		8:  "20060102",
		6:  "200601",
		4:  "2006",
	}
	layout, ok := layouts[len(s)]
	if !ok {
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
	return time.ParseInLocation(layout, s, loc)
}

// GetSegment returns the first segment with the given name, or nil if not found.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// field returns the 1-based field, or nil when absent. For MSH, MSH-1 is
// Fields[0].
func (s *Segment) field(index int) *Field {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	return &s.Fields[idx]
}

// GetField returns the raw value of a field by 1-based index.
func (s *Segment) GetField(index int) string {
	if f := s.field(index); f != nil {
		return f.Value
	}
	return ""
}

// GetComponent returns a decoded component by 1-based field and component
// indices.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	f := s.field(fieldIdx)
	if f == nil {
		return ""
	}
	ci := compIdx - 1
	if ci < 0 || ci >= len(f.Components) {
		return ""
	}
	return f.Components[ci]
}

// GetComponents returns the decoded components of the first repetition.
func (s *Segment) GetComponents(fieldIdx int) []string {
	if f := s.field(fieldIdx); f != nil {
		return f.Components
	}
	return nil
}

// PatientID returns PID-3.1.
func (m *Message) PatientID() string {
	pid := m.GetSegment("PID")
	if pid == nil {
		return ""
	}
	return pid.GetComponent(3, 1)
}

// PatientName returns the family and given name from PID-5.
func (m *Message) PatientName() (family, given string) {
	pid := m.GetSegment("PID")
	if pid == nil {
		return "", ""
	}
	return pid.GetComponent(5, 1), pid.GetComponent(5, 2)
}
