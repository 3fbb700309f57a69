package limits

import (
	"fmt"
	"strings"
)

// Expected selects the dataset a limit is computed on.
type Expected int

const (
	// Observed uses the observed counts.
	Observed Expected = iota
	// APriori replaces the observation by the nominal background.
	APriori
	// APosteriori replaces the observation by the background with its
	// nuisances profiled on the data under the background-only hypothesis.
	APosteriori
)

func (e Expected) String() string {
	switch e {
	case Observed:
		return "observed"
	case APriori:
		return "apriori"
	case APosteriori:
		return "aposteriori"
	default:
		return fmt.Sprintf("Expected(%d)", int(e))
	}
}

// ParseExpected parses the names printed by String. "expected" and "true"
// are accepted for APriori, "posteriori" for APosteriori.
func ParseExpected(s string) (Expected, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "observed", "false":
		return Observed, nil
	case "apriori", "expected", "true":
		return APriori, nil
	case "aposteriori", "posteriori":
		return APosteriori, nil
	default:
		return Observed, fmt.Errorf("limits: unknown expected mode %q", s)
	}
}

func (e Expected) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Expected) UnmarshalText(text []byte) error {
	v, err := ParseExpected(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// State is the stage an upper-limit computation reached.
type State int

const (
	StateInit State = iota
	StateSeed
	StateBracket
	StateRootSolve
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSeed:
		return "seed"
	case StateBracket:
		return "bracket"
	case StateRootSolve:
		return "root-solve"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
