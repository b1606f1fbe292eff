// Package bytesize converts the human-readable size limits in the
// configuration file to byte counts.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count configured as a human-readable string. The
// upload, chunk, URL-fetch and album ZIP limits all decode into it.
//
// Accepted forms are a plain number ("1024"), a decimal unit ("100MB",
// x1000) or a binary unit ("500Mi", x1024). The trailing B is optional,
// letter case does not matter, and whitespace around and between the
// number and the unit is ignored.
type ByteSize uint64

// Unit factors.
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// ParseByteSize converts a size string like "1Gi", "100MB" or "1024"
// to its byte count.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	num, unit := splitNumber(s)
	if num == "" || strings.HasSuffix(num, ".") {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}
	factor, ok := unitFactor(unit)
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", unit)
	}

	// Fractions are only meaningful against a unit factor, but a plain
	// "1.5" still parses as one byte and change rounded down.
	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", num)
		}
		return ByteSize(f * float64(factor)), nil
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", num)
	}
	return ByteSize(n) * factor, nil
}

// splitNumber peels the leading unsigned number (with at most one
// decimal point) off s and returns it with the trimmed remainder.
func splitNumber(s string) (num, rest string) {
	i := 0
	dot := false
	for i < len(s) {
		c := s[i]
		if c >= '0' && c <= '9' {
			i++
			continue
		}
		if c == '.' && !dot && i > 0 {
			dot = true
			i++
			continue
		}
		break
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// unitFactor resolves a unit suffix to its byte factor. The trailing B
// is optional: "Mi" and "MiB" are the same unit.
func unitFactor(unit string) (ByteSize, bool) {
	switch strings.TrimSuffix(strings.ToLower(unit), "b") {
	case "":
		return B, true
	case "k":
		return KB, true
	case "m":
		return MB, true
	case "g":
		return GB, true
	case "t":
		return TB, true
	case "ki":
		return KiB, true
	case "mi":
		return MiB, true
	case "gi":
		return GiB, true
	case "ti":
		return TiB, true
	}
	return 0, false
}

// UnmarshalText implements encoding.TextUnmarshaler so ByteSize fields
// decode straight from the YAML configuration.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

var displayUnits = []struct {
	factor ByteSize
	label  string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

// String renders the size in the largest binary unit it fills, with two
// decimals; sub-KiB values print as plain bytes.
func (b ByteSize) String() string {
	for _, u := range displayUnits {
		if b >= u.factor {
			return fmt.Sprintf("%.2f%s", float64(b)/float64(u.factor), u.label)
		}
	}
	return fmt.Sprintf("%dB", b)
}

// Uint64 returns the byte count.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}

// Int64 returns the byte count as an int64 for APIs that take signed
// sizes. Values beyond 1<<63-1 wrap.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
