// Package histogram parses and encodes device rate, pacing and activity
// histograms. A histogram is an ordered list of label to count pairs.
package histogram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format is a histogram text encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatPipe Format = "pipe"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrEmpty is returned when no row of the input could be parsed.
var ErrEmpty = errors.New("histogram: no valid bins")

// Bin is one label and its count or percentage.
type Bin struct {
	Label string  `json:"label"`
	Count float64 `json:"count"`
}

// Histogram keeps bins in source order. Percent reports that counts were
// given as percentages. Skipped counts malformed rows that were dropped.
type Histogram struct {
	Bins    []Bin  `json:"bins"`
	Percent bool   `json:"percent,omitempty"`
	Unit    string `json:"unit,omitempty"`
	Skipped int    `json:"-"`
}

// Detect picks a format from the shape of raw. A payload holding a JSON
// document, possibly behind a text prefix, is JSON. Bracketed interval
// labels such as "[60,70)" are not.
func Detect(raw string) Format {
	s := trimPayload(raw)
	switch {
	case jsonStart(s) >= 0:
		return FormatJSON
	case strings.Contains(s, "|"):
		return FormatPipe
	default:
		return FormatCSV
	}
}

func trimPayload(raw string) string {
	return strings.TrimFunc(raw, func(r rune) bool {
		return r == '\ufeff' || r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
}

// jsonStart returns the index of the first '{' or '[' from which the rest
// of s is valid JSON, or -1.
func jsonStart(s string) int {
	for i := strings.IndexAny(s, "{["); i >= 0; {
		if json.Valid([]byte(s[i:])) {
			return i
		}
		next := strings.IndexAny(s[i+1:], "{[")
		if next < 0 {
			break
		}
		i += next + 1
	}
	return -1
}

// LooksLikeHistogram reports whether a text value is plausibly a histogram
// rather than free text.
func LooksLikeHistogram(raw string) bool {
	h, err := Parse(raw, FormatAuto)
	return err == nil && len(h.Bins) >= 2 && h.Skipped == 0
}

// Parse decodes raw in the given format, detecting it when format is
// FormatAuto.
func Parse(raw string, format Format) (*Histogram, error) {
	if format == FormatAuto {
		format = Detect(raw)
	}
	var (
		h   *Histogram
		err error
	)
	switch format {
	case FormatPipe:
		h = parsePipe(raw)
	case FormatCSV:
		h = parseCSV(raw)
	case FormatJSON:
		h, err = parseJSON(raw)
	default:
		return nil, fmt.Errorf("histogram: unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(h.Bins) == 0 {
		return nil, ErrEmpty
	}
	return h, nil
}

func parsePipe(raw string) *Histogram {
	h := &Histogram{}
	for _, item := range strings.Split(strings.TrimSpace(raw), "|") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		i := strings.LastIndexByte(item, ':')
		if i <= 0 {
			h.Skipped++
			continue
		}
		h.addRow(item[:i], item[i+1:])
	}
	return h
}

func parseCSV(raw string) *Histogram {
	h := &Histogram{}
	rows := strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == '\r' || r == ';' })
	for n, row := range rows {
		row = strings.TrimSpace(row)
		if row == "" {
			continue
		}
		// "60-70:10,70-80:45" carries several label:count items per row.
		if strings.Contains(row, ":") {
			for _, item := range strings.Split(row, ",") {
				i := strings.LastIndexByte(item, ':')
				if i <= 0 {
					h.Skipped++
					continue
				}
				h.addRow(item[:i], item[i+1:])
			}
			continue
		}
		label, count, ok := strings.Cut(row, ",")
		if !ok {
			h.Skipped++
			continue
		}
		if _, err := parseCount(count); err != nil && n == 0 {
			continue // header
		}
		h.addRow(label, count)
	}
	return h
}

func (h *Histogram) addRow(label, count string) {
	label = strings.TrimSpace(label)
	c, err := parseCount(count)
	if label == "" || err != nil {
		h.Skipped++
		return
	}
	if strings.HasSuffix(strings.TrimSpace(count), "%") {
		h.Percent = true
	}
	h.Bins = append(h.Bins, Bin{Label: label, Count: c})
}

func parseCount(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return v, nil
}

type jsonHistogram struct {
	Bins        []json.RawMessage `json:"bins"`
	Counts      []float64         `json:"counts,omitempty"`
	Percentages []float64         `json:"percentages,omitempty"`
	Unit        string            `json:"unit,omitempty"`
}

func parseJSON(raw string) (*Histogram, error) {
	s := trimPayload(raw)
	if i := jsonStart(s); i > 0 {
		s = s[i:]
	}
	if strings.HasPrefix(s, "[") {
		var rows []struct {
			Label json.RawMessage `json:"label"`
			Count *float64        `json:"count"`
		}
		if err := json.Unmarshal([]byte(s), &rows); err != nil {
			return nil, fmt.Errorf("histogram: decoding json rows: %w", err)
		}
		h := &Histogram{}
		for _, r := range rows {
			label, ok := jsonLabel(r.Label)
			if !ok || r.Count == nil || *r.Count < 0 {
				h.Skipped++
				continue
			}
			h.Bins = append(h.Bins, Bin{Label: label, Count: *r.Count})
		}
		return h, nil
	}

	var doc jsonHistogram
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("histogram: decoding json: %w", err)
	}
	values, percent := doc.Counts, false
	if len(values) == 0 && len(doc.Percentages) > 0 {
		values, percent = doc.Percentages, true
	}
	h := &Histogram{Percent: percent, Unit: doc.Unit}
	for i, b := range doc.Bins {
		label, ok := jsonLabel(b)
		if !ok || i >= len(values) || values[i] < 0 {
			h.Skipped++
			continue
		}
		h.Bins = append(h.Bins, Bin{Label: label, Count: values[i]})
	}
	return h, nil
}

// jsonLabel accepts string or numeric labels. Numeric [lo, hi] pairs
// become "lo-hi".
func jsonLabel(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return formatFloat(f), true
	}
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
		return formatFloat(pair[0]) + "-" + formatFloat(pair[1]), true
	}
	return "", false
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
