package egm

import (
	"encoding/binary"
	"errors"
	"testing"
)

func encode(samples []int16, order binary.ByteOrder, header int) []byte {
	out := make([]byte, header+2*len(samples))
	for i, s := range samples {
		order.PutUint16(out[header+2*i:], uint16(s))
	}
	return out
}

// ramp cycles through -1000..1000 so the byte-swapped reading is implausible.
func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i%2001 - 1000)
	}
	return out
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want Format
	}{
		{"empty", nil, FormatUnknown},
		{"pdf", []byte("%PDF-1.4 ..."), FormatPDF},
		{"xml declaration", []byte("<?xml version=\"1.0\"?><egm/>"), FormatXML},
		{"xml element", []byte("  <egm></egm>"), FormatXML},
		{"binary", []byte{0x01, 0x02, 0x03, 0x04}, FormatBinary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.blob); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecode_LittleEndian(t *testing.T) {
	samples := ramp(5120)
	w, err := Decode(encode(samples, binary.LittleEndian, DefaultHeaderSize), FormatBinary, DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.LittleEndian || !w.EndianConfident {
		t.Errorf("expected confident little-endian, got le=%v confident=%v", w.LittleEndian, w.EndianConfident)
	}
	if w.SampleCount != 5120 {
		t.Fatalf("expected 5120 samples, got %d", w.SampleCount)
	}
	if w.Samples[0] != -1000 || w.Samples[2000] != 1000 {
		t.Errorf("unexpected sample values %d, %d", w.Samples[0], w.Samples[2000])
	}
	if w.SampleRate != 512 || !w.RateConfident {
		t.Errorf("expected confident 512 Hz, got %d (confident=%v)", w.SampleRate, w.RateConfident)
	}
	if w.DurationSeconds != 10 {
		t.Errorf("expected 10 s, got %v", w.DurationSeconds)
	}
	if len(w.Flags) != 0 {
		t.Errorf("expected no flags, got %v", w.Flags)
	}
}

func TestDecode_BigEndian(t *testing.T) {
	w, err := Decode(encode(ramp(2560), binary.BigEndian, DefaultHeaderSize), FormatUnknown, DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.LittleEndian || !w.EndianConfident {
		t.Errorf("expected confident big-endian, got le=%v confident=%v", w.LittleEndian, w.EndianConfident)
	}
	if w.SampleRate != 256 {
		t.Errorf("expected 256 Hz, got %d", w.SampleRate)
	}
}

func TestDecode_Ambiguous(t *testing.T) {
	samples := make([]int16, 5120)
	for i := range samples {
		samples[i] = 0x0101
	}
	w, err := Decode(encode(samples, binary.LittleEndian, DefaultHeaderSize), FormatBinary, DecodeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.EndianConfident {
		t.Error("expected endianness to be unconfident")
	}
	if !hasFlag(w.Flags, FlagEndianAmbiguous) {
		t.Errorf("expected %s flag, got %v", FlagEndianAmbiguous, w.Flags)
	}
}

func TestDecode_Implausible(t *testing.T) {
	samples := make([]int16, 5120)
	for i := range samples {
		samples[i] = 0x7070
	}
	w, err := Decode(encode(samples, binary.LittleEndian, 0), FormatBinary, DecodeOptions{HeaderSize: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasFlag(w.Flags, FlagImplausibleSignal) {
		t.Errorf("expected %s flag, got %v", FlagImplausibleSignal, w.Flags)
	}
	if w.SampleCount != 5120 {
		t.Errorf("expected no header to be skipped, got %d samples", w.SampleCount)
	}
}

func TestDecode_CustomHeaderAndOddLength(t *testing.T) {
	blob := encode(ramp(5120), binary.LittleEndian, 128)
	blob = append(blob, 0xFF)
	w, err := Decode(blob, FormatBinary, DecodeOptions{HeaderSize: 128})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.SampleCount != 5120 {
		t.Errorf("expected 5120 samples, got %d", w.SampleCount)
	}
	if !hasFlag(w.Flags, FlagOddLength) {
		t.Errorf("expected %s flag, got %v", FlagOddLength, w.Flags)
	}
}

func TestDecode_RateSnapping(t *testing.T) {
	tests := []struct {
		samples   int
		rate      int
		confident bool
	}{
		{5120, 512, true},
		{3000, 256, true},
		{4000, 512, true},
		{7000, 512, false},
		{10000, 1000, true},
	}
	for _, tt := range tests {
		w, err := Decode(encode(ramp(tt.samples), binary.LittleEndian, DefaultHeaderSize), FormatBinary, DecodeOptions{})
		if err != nil {
			t.Fatalf("%d samples: unexpected error: %v", tt.samples, err)
		}
		if w.SampleRate != tt.rate || w.RateConfident != tt.confident {
			t.Errorf("%d samples: expected %d Hz confident=%v, got %d Hz confident=%v",
				tt.samples, tt.rate, tt.confident, w.SampleRate, w.RateConfident)
		}
		if !tt.confident && !hasFlag(w.Flags, FlagRateEstimated) {
			t.Errorf("%d samples: expected %s flag", tt.samples, FlagRateEstimated)
		}
	}
}

func TestDecode_EmbeddedFormats(t *testing.T) {
	w, err := Decode([]byte("%PDF-1.7 body"), FormatBinary, DecodeOptions{})
	if !errors.Is(err, ErrEmbeddedFormat) || !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrEmbeddedFormat, got %v", err)
	}
	if w == nil || w.Format != FormatPDF {
		t.Fatalf("expected pdf waveform descriptor, got %+v", w)
	}
	if !hasFlag(w.Flags, FlagFormatHintMismatch) {
		t.Errorf("expected %s flag, got %v", FlagFormatHintMismatch, w.Flags)
	}

	if _, err := Decode([]byte("<?xml version=\"1.0\"?>"), FormatXML, DecodeOptions{}); !errors.Is(err, ErrEmbeddedFormat) {
		t.Errorf("expected ErrEmbeddedFormat for xml, got %v", err)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(nil, FormatBinary, DecodeOptions{}); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for empty payload, got %v", err)
	}
	if _, err := Decode(make([]byte, 40), FormatBinary, DecodeOptions{}); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for header-only payload, got %v", err)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
