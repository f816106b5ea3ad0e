package stagequeue

import (
	"fmt"
	"strings"
)

// Stage is one ordered phase of a project's post-evaluation lifecycle at which
// deferred actions run. The set is closed; its order is the order of Stages().
type Stage int

const (
	// AfterEvaluation runs right after the project has been evaluated.
	AfterEvaluation Stage = iota
	// PostProcessing runs once every AfterEvaluation action has completed.
	PostProcessing
)

// DefaultStage is the stage used by Schedule.
const DefaultStage = AfterEvaluation

var stages = []Stage{AfterEvaluation, PostProcessing}

// Stages returns every stage in ascending order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// LastStage returns the highest stage.
func LastStage() Stage {
	return stages[len(stages)-1]
}

// Valid reports whether s is a member of the stage set.
func (s Stage) Valid() bool {
	switch s {
	case AfterEvaluation, PostProcessing:
		return true
	}
	return false
}

// Before reports whether s is strictly earlier than other.
func (s Stage) Before(other Stage) bool {
	return s < other
}

// AtOrBefore reports whether s is earlier than or equal to other.
func (s Stage) AtOrBefore(other Stage) bool {
	return s <= other
}

func (s Stage) String() string {
	switch s {
	case AfterEvaluation:
		return "AfterEvaluation"
	case PostProcessing:
		return "PostProcessing"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStage parses a stage name. Matching ignores case and accepts the
// kebab and snake spellings ("after-evaluation", "post_processing").
func ParseStage(name string) (Stage, error) {
	normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	for _, s := range stages {
		if strings.ToLower(s.String()) == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}
