package runtime

import (
	"fmt"
	"strings"
)

// Route is a parsed route spec: "+" joins agents of one stage, ">" starts a
// stage that waits for every agent of the previous one.
type Route struct {
	Raw    string
	Stages [][]string
}

func ParseRoute(spec string) (Route, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Route{}, fmt.Errorf("empty route")
	}

	stageParts := strings.Split(raw, ">")
	stages := make([][]string, 0, len(stageParts))
	seen := map[string]struct{}{}
	for _, part := range stageParts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Route{}, fmt.Errorf("invalid route %q: empty stage near '>'", spec)
		}
		names := strings.Split(part, "+")
		stage := make([]string, 0, len(names))
		for _, n := range names {
			name := strings.TrimSpace(n)
			if name == "" {
				return Route{}, fmt.Errorf("invalid route %q: empty agent near '+'", spec)
			}
			if strings.ContainsAny(name, " \t") {
				return Route{}, fmt.Errorf("invalid agent name %q in route %q", name, spec)
			}
			if _, ok := seen[name]; ok {
				return Route{}, fmt.Errorf("duplicate agent %q in route %q", name, spec)
			}
			seen[name] = struct{}{}
			stage = append(stage, name)
		}
		stages = append(stages, stage)
	}
	return Route{Raw: raw, Stages: stages}, nil
}

func (r Route) Flatten() []string {
	total := 0
	for _, s := range r.Stages {
		total += len(s)
	}
	out := make([]string, 0, total)
	for _, s := range r.Stages {
		out = append(out, s...)
	}
	return out
}

func (r Route) String() string {
	parts := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		parts = append(parts, strings.Join(s, "+"))
	}
	return strings.Join(parts, ">")
}
