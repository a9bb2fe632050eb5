package histogram

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode writes h in format. Labels containing that format's separators
// are rejected so the output always parses back to h.
func Encode(h *Histogram, format Format) (string, error) {
	if h == nil || len(h.Bins) == 0 {
		return "", ErrEmpty
	}
	switch format {
	case FormatPipe, FormatAuto:
		return encodeDelimited(h, "|", ":", "|")
	case FormatCSV:
		return encodeDelimited(h, "\n", ",", ",:;\n\r")
	case FormatJSON:
		return encodeJSON(h)
	default:
		return "", fmt.Errorf("histogram: unknown format %q", format)
	}
}

func encodeDelimited(h *Histogram, rowSep, kvSep, forbidden string) (string, error) {
	suffix := ""
	if h.Percent {
		suffix = "%"
	}
	rows := make([]string, 0, len(h.Bins))
	for _, b := range h.Bins {
		if strings.ContainsAny(b.Label, forbidden) || b.Label != strings.TrimSpace(b.Label) {
			return "", fmt.Errorf("histogram: label %q cannot be encoded", b.Label)
		}
		rows = append(rows, b.Label+kvSep+formatFloat(b.Count)+suffix)
	}
	return strings.Join(rows, rowSep), nil
}

func encodeJSON(h *Histogram) (string, error) {
	doc := jsonHistogram{Unit: h.Unit}
	values := make([]float64, 0, len(h.Bins))
	for _, b := range h.Bins {
		label, err := json.Marshal(b.Label)
		if err != nil {
			return "", err
		}
		doc.Bins = append(doc.Bins, label)
		values = append(values, b.Count)
	}
	if h.Percent {
		doc.Percentages = values
	} else {
		doc.Counts = values
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("histogram: encoding json: %w", err)
	}
	return string(out), nil
}
