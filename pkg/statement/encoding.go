package statement

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// SampleSize is the number of leading bytes inspected for encoding detection and probing.
const SampleSize = 10 * 1024

const utf8Name = "utf-8"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrEncoding is returned when no candidate encoding yields valid text.
var ErrEncoding = errors.New("unable to decode file")

// aliases maps detector output onto the code page actually used by Polish banks.
var aliases = map[string]string{
	"iso-8859-2": "windows-1250",
	"iso8859-2":  "windows-1250",
}

// DetectEncoding runs statistical charset detection on a bounded prefix.
// It returns an empty string when detection is inconclusive.
func DetectEncoding(data []byte) string {
	sample := data
	if len(sample) > SampleSize {
		sample = sample[:SampleSize]
	}
	if len(sample) == 0 {
		return ""
	}

	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || res == nil || res.Charset == "" {
		return ""
	}

	name := strings.ToLower(res.Charset)
	if alias, ok := aliases[name]; ok {
		return alias
	}
	return name
}

// Decode converts raw statement bytes to UTF-8 text.
// Valid UTF-8 input is returned as-is. Otherwise the candidates are tried in
// order: the declared encoding, the detected encoding, the fallback, UTF-8.
// Header sniffing passes no declared encoding, so the statistical guess leads
// there. Once a descriptor has matched, its code page is known for that bank
// and outranks a guess made on a mostly ASCII sample; single-byte decoders
// never fail, so a wrong guess ahead of it would garble text silently.
// It returns the decoded text and the name of the encoding that produced it.
func Decode(data []byte, declared, fallback string) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), utf8Name, nil
	}

	candidates := []string{declared, DetectEncoding(data), fallback, utf8Name}
	seen := make(map[string]bool, len(candidates))
	var errs []error

	for _, name := range candidates {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		text, err := decodeWith(data, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		return text, name, nil
	}

	return "", "", fmt.Errorf("%w: %w", ErrEncoding, errors.Join(errs...))
}

func decodeWith(data []byte, name string) (string, error) {
	if name == utf8Name || name == "utf8" {
		if !utf8.Valid(data) {
			return "", errors.New("invalid utf-8 sequence")
		}
		return string(data), nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("unknown encoding: %w", err)
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding: %w", err)
	}
	if !utf8.Valid(out) {
		return "", errors.New("decoder produced invalid utf-8")
	}
	return string(out), nil
}

// decodeSample decodes a header sample for probing only. Probe tokens are
// ASCII, so an inconclusive detection falls back to a lossless byte mapping.
func decodeSample(sample []byte) string {
	// A cut at SampleSize may split a multi-byte rune.
	for i := 0; i < utf8.UTFMax-1 && len(sample) > 0; i++ {
		r, size := utf8.DecodeLastRune(sample)
		if r != utf8.RuneError || size != 1 {
			break
		}
		sample = sample[:len(sample)-1]
	}

	text, _, err := Decode(sample, "", "")
	if err == nil {
		return text
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(sample)
	if err != nil {
		return string(sample)
	}
	return string(out)
}
