package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uigen/internal/catalog"
)

func staticCapability(id string, priority int, triggers ...string) Capability {
	return Capability{
		ID:       id,
		Name:     id,
		Triggers: triggers,
		Priority: priority,
		Run: func(context.Context, AgentInput) (Output, error) {
			return Output{Content: id}, nil
		},
	}
}

func defaultCapabilities(t *testing.T) *CapabilityRegistry {
	t.Helper()
	caps, err := NewDefaultCapabilities(nil, CapabilityOptions{})
	require.NoError(t, err)
	return caps
}

func TestCapabilityRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewCapabilityRegistry(staticCapability("a", 1, "x"), staticCapability("a", 2, "y"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = NewCapabilityRegistry(Capability{ID: "nofn", Triggers: []string{"x"}})
	require.Error(t, err)
}

func TestFindMatchesConfidenceAndCase(t *testing.T) {
	r, err := NewCapabilityRegistry(staticCapability("nav", 8, "nav", "menu", "header", "topbar"))
	require.NoError(t, err)

	one := r.FindMatches("Build a NAV please", nil)
	require.Len(t, one, 1)
	assert.InDelta(t, 0.7, one[0].Confidence, 1e-9)

	two := r.FindMatches("nav with a menu", nil)
	require.Len(t, two, 1)
	assert.InDelta(t, 1.0, two[0].Confidence, 1e-9)

	capped := r.FindMatches("nav menu header topbar", nil)
	require.Len(t, capped, 1)
	assert.InDelta(t, 1.0, capped[0].Confidence, 1e-9)

	assert.Empty(t, r.FindMatches("nothing relevant", nil))
}

func TestFindMatchesOrdering(t *testing.T) {
	r, err := NewCapabilityRegistry(
		staticCapability("low", 2, "widget"),
		staticCapability("first", 5, "widget"),
		staticCapability("second", 5, "widget"),
		staticCapability("confident", 5, "widget", "gadget"),
	)
	require.NoError(t, err)

	matches := r.FindMatches("widget gadget", nil)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Capability.ID)
	}
	assert.Equal(t, []string{"confident", "first", "second", "low"}, ids)
}

func TestFindBestRestrictsCandidates(t *testing.T) {
	r := defaultCapabilities(t)

	best, ok := r.FindBest("a pricing table", nil)
	require.True(t, ok)
	assert.Equal(t, "pricing", best.ID)

	best, ok = r.FindBest("a pricing table", []string{"table", "missing"})
	require.True(t, ok)
	assert.Equal(t, "table", best.ID)

	_, ok = r.FindBest("a pricing table", []string{})
	assert.False(t, ok)
}

func TestDefaultCapabilitiesEveryTriggerMatches(t *testing.T) {
	r := defaultCapabilities(t)
	require.Equal(t, 12, r.Len())
	for _, c := range r.List() {
		for _, trig := range c.Triggers {
			found := false
			for _, m := range r.FindMatches("please "+trig+" now", nil) {
				if m.Capability.ID == c.ID {
					found = true
					assert.GreaterOrEqual(t, m.Confidence, 0.7)
				}
			}
			assert.True(t, found, "%s should match trigger %q", c.ID, trig)
		}
	}
}

func TestSnippetCapabilityOutput(t *testing.T) {
	r := defaultCapabilities(t)
	navbar, err := r.Get("navbar")
	require.NoError(t, err)

	out, err := navbar.Run(context.Background(), AgentInput{UserRequest: "navbar"})
	require.NoError(t, err)
	assert.Contains(t, out.Code, "<nav")
	assert.Equal(t, 150, out.Meta.TokensUsed)
	assert.NotEmpty(t, out.Content)

	_, err = r.Get("nope")
	assert.True(t, errors.Is(err, ErrUnknownCapability))
}

func TestSnippetCapabilityHonorsContext(t *testing.T) {
	c := SnippetCapability(catalog.CapabilityTemplate{ID: "slow", Triggers: []string{"slow"}, LatencyMS: 60_000}, CapabilityOptions{SimulateLatency: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Run(ctx, AgentInput{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkspaceCapabilitiesOverrideAndExtend(t *testing.T) {
	r, err := NewDefaultCapabilities([]catalog.CapabilityTemplate{
		{ID: "navbar", Triggers: []string{"topnav"}, Priority: 9, Snippet: "<nav/>"},
		{ID: "stepper", Triggers: []string{"stepper"}, Priority: 6, Snippet: "<ol/>"},
	}, CapabilityOptions{})
	require.NoError(t, err)
	require.Equal(t, 13, r.Len())

	list := r.List()
	assert.Equal(t, "navbar", list[0].ID)
	assert.Equal(t, []string{"topnav"}, list[0].Triggers)
	assert.Equal(t, "stepper", list[len(list)-1].ID)

	_, ok := r.FindBest("a navbar", []string{"navbar"})
	assert.False(t, ok)
}
