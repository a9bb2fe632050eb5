package histogram

import (
	"errors"
	"math"
	"testing"
)

func TestParse_Formats(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		format  Format
		labels  []string
		counts  []float64
		percent bool
	}{
		{"pipe percentages", "60-70:10%|70-80:45%|80-90:30%|90-100:15%", FormatAuto,
			[]string{"60-70", "70-80", "80-90", "90-100"}, []float64{10, 45, 30, 15}, true},
		{"pipe counts", "rest:40|light:30|moderate:20", FormatPipe,
			[]string{"rest", "light", "moderate"}, []float64{40, 30, 20}, false},
		{"csv with header", "bin,count\n<60,5\n60-100,80\n>100,15", FormatAuto,
			[]string{"<60", "60-100", ">100"}, []float64{5, 80, 15}, false},
		{"csv semicolons", "a,1;b,2;c,3", FormatCSV,
			[]string{"a", "b", "c"}, []float64{1, 2, 3}, false},
		{"csv colon items", "60-70:10,70-80:45", FormatAuto,
			[]string{"60-70", "70-80"}, []float64{10, 45}, false},
		{"json arrays", `{"bins":[60,70,[80,90]],"percentages":[20,50,30],"unit":"bpm"}`, FormatAuto,
			[]string{"60", "70", "80-90"}, []float64{20, 50, 30}, true},
		{"json rows", `[{"label":"A","count":3},{"label":"B","count":7}]`, FormatAuto,
			[]string{"A", "B"}, []float64{3, 7}, false},
		{"json after whitespace and bom", "\ufeff \r\n" + `{"bins":[60,70],"counts":[4,6]}`, FormatAuto,
			[]string{"60", "70"}, []float64{4, 6}, false},
		{"json behind a text prefix", `Rate histogram: {"bins":[60,70],"counts":[4,6]}`, FormatAuto,
			[]string{"60", "70"}, []float64{4, 6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Parse(tt.raw, tt.format)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(h.Bins) != len(tt.labels) {
				t.Fatalf("expected %d bins, got %d (%+v)", len(tt.labels), len(h.Bins), h.Bins)
			}
			for i, b := range h.Bins {
				if b.Label != tt.labels[i] || b.Count != tt.counts[i] {
					t.Errorf("bin %d: expected %s=%v, got %s=%v", i, tt.labels[i], tt.counts[i], b.Label, b.Count)
				}
			}
			if h.Percent != tt.percent {
				t.Errorf("expected percent=%v, got %v", tt.percent, h.Percent)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	tests := map[string]Format{
		`  {"bins":[1,2],"counts":[3,4]}`:   FormatJSON,
		"\t[{\"label\":\"A\",\"count\":1}]": FormatJSON,
		`hist={"bins":[1],"counts":[2]}`:    FormatJSON,
		"[60-70):10|[70-80):20":             FormatPipe,
		"[60-70),10\n[70-80),20":            FormatCSV,
		"rest:40|light:30":                  FormatPipe,
		"bin,count\n<60,5":                  FormatCSV,
	}
	for raw, want := range tests {
		if got := Detect(raw); got != want {
			t.Errorf("Detect(%q): expected %s, got %s", raw, want, got)
		}
	}
}

func TestParse_SkipsMalformedRows(t *testing.T) {
	h, err := Parse("a:1|garbage|b:x|c:3", FormatPipe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.Bins) != 2 || h.Skipped != 2 {
		t.Errorf("expected 2 bins and 2 skipped, got %d and %d", len(h.Bins), h.Skipped)
	}
}

func TestParse_Empty(t *testing.T) {
	for _, raw := range []string{"", "garbage", "x:|y:z", `{"bins":[]}`} {
		if _, err := Parse(raw, FormatAuto); !errors.Is(err, ErrEmpty) {
			t.Errorf("Parse(%q): expected ErrEmpty, got %v", raw, err)
		}
	}
	if _, err := Parse("{not json", FormatJSON); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestRoundTrip(t *testing.T) {
	hists := []*Histogram{
		{Bins: []Bin{{"60-70", 10}, {"70-80", 45.5}, {"80-90", 44.5}}, Percent: true},
		{Bins: []Bin{{"rest", 400}, {"light", 0}, {"vigorous", 12}}},
		{Bins: []Bin{{"zone 1", 1e-3}, {"zone 2", 123456789}}, Unit: "bpm"},
	}
	for _, f := range []Format{FormatPipe, FormatCSV, FormatJSON} {
		for i, h := range hists {
			enc, err := Encode(h, f)
			if err != nil {
				t.Fatalf("%s/%d: encode: %v", f, i, err)
			}
			got, err := Parse(enc, f)
			if err != nil {
				t.Fatalf("%s/%d: parse %q: %v", f, i, enc, err)
			}
			if len(got.Bins) != len(h.Bins) || got.Percent != h.Percent {
				t.Fatalf("%s/%d: expected %+v, got %+v", f, i, h, got)
			}
			for j := range h.Bins {
				if got.Bins[j] != h.Bins[j] {
					t.Errorf("%s/%d: bin %d expected %+v, got %+v", f, i, j, h.Bins[j], got.Bins[j])
				}
			}
			if f == FormatJSON && got.Unit != h.Unit {
				t.Errorf("%s/%d: expected unit %q, got %q", f, i, h.Unit, got.Unit)
			}
		}
	}
}

func TestEncode_RejectsSeparators(t *testing.T) {
	if _, err := Encode(&Histogram{Bins: []Bin{{"a|b", 1}}}, FormatPipe); err == nil {
		t.Error("expected error for pipe in label")
	}
	if _, err := Encode(&Histogram{Bins: []Bin{{"a,b", 1}}}, FormatCSV); err == nil {
		t.Error("expected error for comma in label")
	}
	if _, err := Encode(&Histogram{}, FormatJSON); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	h, err := Parse("60-70:10%|70-80:45%|80-90:30%|90-100:15%", FormatPipe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := Summarize(h)
	if s.WeightedMean == nil || math.Abs(*s.WeightedMean-80) > 1e-9 {
		t.Errorf("expected weighted mean 80, got %v", s.WeightedMean)
	}
	if s.ModeBin != "70-80" || s.MaxPercentage != 45 {
		t.Errorf("expected mode 70-80 at 45%%, got %s at %v", s.ModeBin, s.MaxPercentage)
	}
	if s.MedianBin != "70-80" {
		t.Errorf("expected median bin 70-80, got %s", s.MedianBin)
	}

	labels, _ := Parse("rest:3|walk:1", FormatPipe)
	if s := Summarize(labels); s.WeightedMean != nil || s.ModeBin != "rest" || s.MaxPercentage != 75 {
		t.Errorf("unexpected summary for labelled counts: %+v", s)
	}
}

func TestTimeInZones(t *testing.T) {
	h, _ := Parse("50-60:5|60-80:50|80-100:25|100-130:15|rest:5", FormatPipe)
	zones := TimeInZones(h, nil)
	want := map[string]float64{"bradycardia": 5, "normal_rest": 75, "elevated": 15, "tachycardia": 0, "extreme": 0}
	for _, z := range zones {
		if math.Abs(z.Percent-want[z.Zone]) > 1e-9 {
			t.Errorf("zone %s: expected %v, got %v", z.Zone, want[z.Zone], z.Percent)
		}
	}
}

func TestLooksLikeHistogram(t *testing.T) {
	if !LooksLikeHistogram("60-70:10%|70-80:90%") {
		t.Error("expected pipe histogram to be recognised")
	}
	if LooksLikeHistogram("Patient reports dizziness, fatigue") {
		t.Error("expected free text to be rejected")
	}
}
