package resolution

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel errors for criterion parsing.
// These can be checked with errors.Is().
var (
	ErrInvalidResolutionFormat = errors.New("invalid resolution format")
	ErrInvalidComparison       = errors.New("invalid comparison type")
)

// DefaultHeightTolerance is the allowed pixel drift for height-only equality.
const DefaultHeightTolerance = 10

// Comparison is the relation a video's dimensions must satisfy against the target.
type Comparison int

const (
	EQ Comparison = iota
	LTE
	GTE
)

// ValidComparisons lists the accepted comparison names.
var ValidComparisons = []string{"eq", "lte", "gte"}

// ParseComparison converts a comparison name into a Comparison.
// An empty string yields EQ.
func ParseComparison(s string) (Comparison, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "eq":
		return EQ, nil
	case "lte":
		return LTE, nil
	case "gte":
		return GTE, nil
	default:
		return EQ, fmt.Errorf("%w: %q (valid: %s)", ErrInvalidComparison, s, strings.Join(ValidComparisons, ", "))
	}
}

// String returns the comparison name (eq, lte, gte).
func (c Comparison) String() string {
	switch c {
	case LTE:
		return "lte"
	case GTE:
		return "gte"
	default:
		return "eq"
	}
}

// Symbol returns the operator used in human-readable output.
func (c Comparison) Symbol() string {
	switch c {
	case LTE:
		return "<="
	case GTE:
		return ">="
	default:
		return "=="
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Comparison) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Comparison) UnmarshalText(text []byte) error {
	parsed, err := ParseComparison(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Spec is a parsed resolution criterion. The zero value is not valid; use Parse.
type Spec struct {
	raw        string
	width      int
	height     int
	hasWidth   bool
	comparison Comparison
	tolerance  int
}

var heightOnlyPattern = regexp.MustCompile(`^(\d+)p?$`)

// Parse parses a resolution string such as "1920x1080", "1080" or "360p".
//
// Strings containing an "x" are always parsed as WxH and never fall back to the
// height-only form.
func Parse(raw string, cmp Comparison) (Spec, error) {
	s := strings.ToLower(strings.TrimSpace(raw))

	if strings.Contains(s, "x") {
		parts := strings.Split(s, "x")
		if len(parts) != 2 {
			return Spec{}, fmt.Errorf("%w: %s", ErrInvalidResolutionFormat, raw)
		}
		width, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil || width <= 0 {
			return Spec{}, fmt.Errorf("%w: %s", ErrInvalidResolutionFormat, raw)
		}
		height, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil || height <= 0 {
			return Spec{}, fmt.Errorf("%w: %s", ErrInvalidResolutionFormat, raw)
		}
		return Spec{
			raw:        raw,
			width:      int(width),
			height:     int(height),
			hasWidth:   true,
			comparison: cmp,
			tolerance:  DefaultHeightTolerance,
		}, nil
	}

	if m := heightOnlyPattern.FindStringSubmatch(s); m != nil {
		height, err := strconv.ParseInt(m[1], 10, 32)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %s", ErrInvalidResolutionFormat, raw)
		}
		return Spec{
			raw:        raw,
			height:     int(height),
			comparison: cmp,
			tolerance:  DefaultHeightTolerance,
		}, nil
	}

	return Spec{}, fmt.Errorf("%w: %s", ErrInvalidResolutionFormat, raw)
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(raw string, cmp Comparison) Spec {
	s, err := Parse(raw, cmp)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns the resolution string as given by the user.
func (s Spec) Raw() string { return s.raw }

// Width returns the target width and whether one was given.
func (s Spec) Width() (int, bool) { return s.width, s.hasWidth }

// Height returns the target height.
func (s Spec) Height() int { return s.height }

// HeightOnly reports whether the spec carries no explicit width.
func (s Spec) HeightOnly() bool { return !s.hasWidth }

// Comparison returns the comparison mode.
func (s Spec) Comparison() Comparison { return s.comparison }

// HeightTolerance returns the tolerance used for height-only EQ matching.
func (s Spec) HeightTolerance() int { return s.tolerance }

// WithHeightTolerance returns a copy of s using tolerance for height-only EQ
// matching. Negative values are treated as zero.
func (s Spec) WithHeightTolerance(tolerance int) Spec {
	s.tolerance = max(tolerance, 0)
	return s
}

// Description renders the criterion as "<symbol> <raw>", e.g. "<= 720p".
func (s Spec) Description() string {
	return s.comparison.Symbol() + " " + s.raw
}

// String implements fmt.Stringer.
func (s Spec) String() string {
	return s.Description()
}
