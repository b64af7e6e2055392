package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"uigen/internal/catalog"
)

var ErrUnknownCapability = errors.New("unknown capability")

// CapabilityFunc produces the output of a capability for an already reduced input.
type CapabilityFunc func(ctx context.Context, in AgentInput) (Output, error)

type Capability struct {
	ID          string
	Name        string
	Description string
	Triggers    []string
	Priority    int
	Run         CapabilityFunc
}

func (c Capability) matchCount(lowerText string) int {
	n := 0
	for _, trig := range c.Triggers {
		trig = strings.ToLower(strings.TrimSpace(trig))
		if trig == "" {
			continue
		}
		if strings.Contains(lowerText, trig) {
			n++
		}
	}
	return n
}

// Matches reports whether any trigger occurs in text, ignoring case.
func (c Capability) Matches(text string) bool {
	return c.matchCount(strings.ToLower(text)) > 0
}

type CapabilityMatch struct {
	Capability Capability
	Confidence float64
}

func confidenceFor(matches int) float64 {
	conf := 0.4 + 0.3*float64(matches)
	if conf > 1 {
		return 1
	}
	return conf
}

// CapabilityRegistry is an insertion-ordered set of capabilities.
// It is built once and only read afterwards.
type CapabilityRegistry struct {
	order []Capability
	index map[string]int
}

func NewCapabilityRegistry(caps ...Capability) (*CapabilityRegistry, error) {
	r := &CapabilityRegistry{
		order: make([]Capability, 0, len(caps)),
		index: make(map[string]int, len(caps)),
	}
	for _, c := range caps {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return nil, fmt.Errorf("capability id is required")
		}
		if _, dup := r.index[id]; dup {
			return nil, fmt.Errorf("duplicate capability %q", id)
		}
		if c.Run == nil {
			return nil, fmt.Errorf("capability %q has no run function", id)
		}
		c.ID = id
		c.Triggers = append([]string(nil), c.Triggers...)
		r.index[id] = len(r.order)
		r.order = append(r.order, c)
	}
	return r, nil
}

func (r *CapabilityRegistry) Find(id string) (Capability, bool) {
	i, ok := r.index[id]
	if !ok {
		return Capability{}, false
	}
	return r.order[i], true
}

func (r *CapabilityRegistry) Get(id string) (Capability, error) {
	c, ok := r.Find(id)
	if !ok {
		return Capability{}, fmt.Errorf("%w: %q", ErrUnknownCapability, id)
	}
	return c, nil
}

func (r *CapabilityRegistry) List() []Capability {
	out := make([]Capability, len(r.order))
	copy(out, r.order)
	return out
}

func (r *CapabilityRegistry) Len() int { return len(r.order) }

// FindMatches returns every candidate whose triggers occur in text, sorted by
// priority then confidence, both descending. Ties keep registry order.
// A nil ids slice means every registered capability is a candidate; unknown
// ids are ignored.
func (r *CapabilityRegistry) FindMatches(text string, ids []string) []CapabilityMatch {
	var allowed map[string]struct{}
	if ids != nil {
		allowed = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			allowed[id] = struct{}{}
		}
	}
	lower := strings.ToLower(text)
	matches := []CapabilityMatch{}
	for _, c := range r.order {
		if allowed != nil {
			if _, ok := allowed[c.ID]; !ok {
				continue
			}
		}
		n := c.matchCount(lower)
		if n == 0 {
			continue
		}
		matches = append(matches, CapabilityMatch{Capability: c, Confidence: confidenceFor(n)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Capability.Priority != matches[j].Capability.Priority {
			return matches[i].Capability.Priority > matches[j].Capability.Priority
		}
		return matches[i].Confidence > matches[j].Confidence
	})
	return matches
}

func (r *CapabilityRegistry) FindBest(text string, ids []string) (Capability, bool) {
	matches := r.FindMatches(text, ids)
	if len(matches) == 0 {
		return Capability{}, false
	}
	return matches[0].Capability, true
}

type CapabilityOptions struct {
	// SimulateLatency sleeps for each template's latency_ms before answering.
	SimulateLatency bool
}

// SnippetCapability turns a catalog template into a capability that answers
// with the template summary and snippet at a fixed token cost.
func SnippetCapability(t catalog.CapabilityTemplate, opts CapabilityOptions) Capability {
	latency := time.Duration(0)
	if opts.SimulateLatency && t.LatencyMS > 0 {
		latency = time.Duration(t.LatencyMS) * time.Millisecond
	}
	tmpl := t
	return Capability{
		ID:          t.ID,
		Name:        coalesce(t.Name, t.ID),
		Description: t.Description,
		Triggers:    append([]string(nil), t.Triggers...),
		Priority:    t.Priority,
		Run: func(ctx context.Context, _ AgentInput) (Output, error) {
			if err := sleepContext(ctx, latency); err != nil {
				return Output{}, err
			}
			return Output{
				Content: coalesce(tmpl.Summary, fmt.Sprintf("Created a %s component.", coalesce(tmpl.Name, tmpl.ID))),
				Code:    tmpl.Snippet,
				Meta:    OutputMeta{TokensUsed: tmpl.TokensUsed},
			}, nil
		},
	}
}

// NewDefaultCapabilities builds the embedded catalog followed by workspace
// templates. A workspace template with a built-in id replaces the built-in in place.
func NewDefaultCapabilities(extra []catalog.CapabilityTemplate, opts CapabilityOptions) (*CapabilityRegistry, error) {
	builtin, err := catalog.Capabilities()
	if err != nil {
		return nil, err
	}
	templates := mergeTemplates(builtin, extra)
	caps := make([]Capability, 0, len(templates))
	for _, t := range templates {
		caps = append(caps, SnippetCapability(t, opts))
	}
	return NewCapabilityRegistry(caps...)
}

func mergeTemplates(base, overrides []catalog.CapabilityTemplate) []catalog.CapabilityTemplate {
	out := append([]catalog.CapabilityTemplate(nil), base...)
	pos := make(map[string]int, len(out))
	for i, t := range out {
		pos[t.ID] = i
	}
	for _, t := range overrides {
		if i, ok := pos[t.ID]; ok {
			out[i] = t
			continue
		}
		pos[t.ID] = len(out)
		out = append(out, t)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func coalesce(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
