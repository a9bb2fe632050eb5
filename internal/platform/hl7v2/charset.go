package hl7v2

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// charsets maps MSH-18 values to decoders. Empty and ASCII are handled by
// the UTF-8 pass-through.
var charsets = map[string]encoding.Encoding{
	"8859/1":        charmap.ISO8859_1,
	"8859/2":        charmap.ISO8859_2,
	"8859/15":       charmap.ISO8859_15,
	"UNICODE UTF-8": unicode.UTF8,
}

// decodeCharset converts the message to UTF-8 according to MSH-18. Input
// that declares nothing but is not valid UTF-8 is read as ISO-8859-1.
func decodeCharset(text string) (string, string, error) {
	charset := declaredCharset(text)
	enc, ok := charsets[strings.ToUpper(charset)]
	if !ok {
		if utf8.ValidString(text) {
			return text, charset, nil
		}
		enc = charmap.ISO8859_1
	}
	if enc == unicode.UTF8 && utf8.ValidString(text) {
		return text, charset, nil
	}
	out, err := enc.NewDecoder().String(text)
	if err != nil {
		return "", charset, fmt.Errorf("hl7v2: decode charset %q: %w", charset, err)
	}
	return out, charset, nil
}

// declaredCharset reads MSH-18 from the header line without a full parse.
func declaredCharset(text string) string {
	if len(text) < 4 {
		return ""
	}
	line := text
	if i := strings.IndexByte(line, '\r'); i >= 0 {
		line = line[:i]
	}
	parts := strings.Split(line[4:], string(text[3]))
	// parts[0] is MSH-2, so MSH-18 sits at index 16.
	if len(parts) <= 16 {
		return ""
	}
	return strings.TrimSpace(parts[16])
}
