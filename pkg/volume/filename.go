package volume

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

const filenameTimeLayout = "20060102T150405Z"

// filenamePattern matches {prefix}-{random6}-{kind}-{yyyyMMddTHHmmssZ}.{compressor}.{encrypter}.
var filenamePattern = regexp.MustCompile(
	`^(.+)-([0-9a-f]{6})-([bif])-(\d{8}T\d{6}Z)\.([a-z0-9]+)\.([a-z0-9]+)$`)

// FormatFilename builds a volume filename in the exact format of
// spec.md §6: {prefix}-{random6}-{kind}-{yyyyMMddTHHmmssZ}.{compressor}.{encrypter}.
func FormatFilename(prefix string, kind Kind, created time.Time) (string, error) {
	suffix, err := randomHex6()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s-%s.%s.%s",
		prefix, suffix, kind.letter(), created.UTC().Format(filenameTimeLayout),
		EncodingCompressor, EncodingEncrypter), nil
}

// ParsedFilename is the decomposed form of a volume filename.
type ParsedFilename struct {
	Prefix     string
	Random     string
	Kind       Kind
	Created    time.Time
	Compressor string
	Encrypter  string
}

// ParseFilename decodes a volume filename produced by FormatFilename.
func ParseFilename(name string) (*ParsedFilename, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, fmt.Errorf("volume: %q does not match the volume filename format", name)
	}
	created, err := time.Parse(filenameTimeLayout, m[4])
	if err != nil {
		return nil, fmt.Errorf("volume: parse timestamp in %q: %w", name, err)
	}

	var kind Kind
	switch m[3] {
	case "b":
		kind = KindDBlock
	case "i":
		kind = KindDIndex
	case "f":
		kind = KindDFileset
	}

	return &ParsedFilename{
		Prefix:     m[1],
		Random:     m[2],
		Kind:       kind,
		Created:    created.UTC(),
		Compressor: m[5],
		Encrypter:  m[6],
	}, nil
}

func randomHex6() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("volume: generate random filename suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
