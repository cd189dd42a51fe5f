package llm

import (
	"strings"

	"github.com/wadang/cua/internal/cuaerr"
)

// ModelRef is one half of a model string: the provider prefix and
// everything after the first "/", which may itself contain further "/"
// separators (spec.md §4.3 grammar: provider/name[/name...]).
type ModelRef struct {
	Provider string
	Name     string
}

func (r ModelRef) String() string { return r.Provider + "/" + r.Name }

// ModelString is a parsed model specifier: either a single ModelRef, or
// a planner+grounder composite (spec.md §4.5).
type ModelString struct {
	Raw       string
	Composite bool
	Planner   ModelRef
	Grounder  ModelRef // zero value unless Composite
}

// ParseModelString splits raw on the first "+" into planner/grounder
// halves (spec.md Design Notes: "split on the first `+`, then on `/`"),
// rejecting more than one "+". Each half must contain at least one "/".
func ParseModelString(raw string) (ModelString, error) {
	if raw == "" {
		return ModelString{}, &cuaerr.ConfigurationError{Reason: "empty model string"}
	}

	plusCount := strings.Count(raw, "+")
	if plusCount > 1 {
		return ModelString{}, &cuaerr.ConfigurationError{Reason: "model string has more than one '+': " + raw}
	}

	if plusCount == 0 {
		ref, err := parseRef(raw)
		if err != nil {
			return ModelString{}, err
		}
		return ModelString{Raw: raw, Planner: ref}, nil
	}

	parts := strings.SplitN(raw, "+", 2)
	planner, err := parseRef(parts[0])
	if err != nil {
		return ModelString{}, err
	}
	grounder, err := parseRef(parts[1])
	if err != nil {
		return ModelString{}, err
	}
	return ModelString{Raw: raw, Composite: true, Planner: planner, Grounder: grounder}, nil
}

func parseRef(s string) (ModelRef, error) {
	idx := strings.Index(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return ModelRef{}, &cuaerr.ConfigurationError{Reason: "malformed model ref, want provider/name: " + s}
	}
	return ModelRef{Provider: s[:idx], Name: s[idx+1:]}, nil
}
