package pooling

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects the reduction applied across a bag. The numeric values match
// the pooling mode codes used by embedding-bag callers.
type Mode int64

const (
	ModeSum  Mode = 0
	ModeMean Mode = 1
	// ModeNone means "no pooling" to callers that produce one output row per
	// index. It has no pooled form and is rejected here.
	ModeNone Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeSum:
		return "sum"
	case ModeMean:
		return "mean"
	case ModeNone:
		return "none"
	default:
		return fmt.Sprintf("mode(%d)", int64(m))
	}
}

// ParseMode maps "sum"/"mean" (case-insensitive) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum", "":
		return ModeSum, nil
	case "mean", "avg":
		return ModeMean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

func (m Mode) valid() bool {
	return m == ModeSum || m == ModeMean
}

// MarshalText lets modes appear as strings in JSON and YAML.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, m)
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnmarshalJSON accepts either the mode name or its numeric code.
func (m *Mode) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if !Mode(n).valid() {
			return fmt.Errorf("%w: %d", ErrUnsupportedMode, n)
		}
		*m = Mode(n)
		return nil
	}
	name, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, s)
	}
	return m.UnmarshalText([]byte(name))
}
