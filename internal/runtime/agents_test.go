package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultAgents(t *testing.T) *AgentRegistry {
	t.Helper()
	agents, err := NewDefaultAgents(defaultCapabilities(t), AgentOptions{})
	require.NoError(t, err)
	return agents
}

func TestDefaultAgentsFromCatalog(t *testing.T) {
	agents := defaultAgents(t)

	cases := []struct {
		kind     AgentKind
		id       string
		priority int
		budget   int
	}{
		{KindUI, "ui-agent", 8, 2000},
		{KindAnalysis, "analysis-agent", 6, 3000},
		{KindGeneral, "general-agent", 4, 2500},
	}
	for _, tc := range cases {
		a, err := agents.Get(tc.kind)
		require.NoError(t, err, tc.kind)
		assert.Equal(t, tc.id, a.ID())
		assert.Equal(t, tc.priority, a.Priority())
		assert.Equal(t, tc.budget, a.MaxContextTokens())

		byID, ok := agents.Lookup(tc.id)
		require.True(t, ok)
		assert.Same(t, a, byID)
	}

	sorted := agents.SortedByPriority()
	require.Len(t, sorted, 3)
	assert.Equal(t, []AgentKind{KindUI, KindAnalysis, KindGeneral}, []AgentKind{sorted[0].Kind(), sorted[1].Kind(), sorted[2].Kind()})
}

func TestAgentRegistryUnknownKind(t *testing.T) {
	agents := defaultAgents(t)
	_, err := agents.Get("designer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAgent))
	assert.Contains(t, err.Error(), "designer")

	_, ok := agents.Resolve("designer")
	assert.False(t, ok)
	a, ok := agents.Resolve("ui")
	require.True(t, ok)
	assert.Equal(t, "ui-agent", a.ID())
}

func TestUIAgentProducesSnippet(t *testing.T) {
	ui, err := defaultAgents(t).Get(KindUI)
	require.NoError(t, err)

	in := AgentInput{UserRequest: "create a navbar"}
	require.True(t, ui.CanHandle(in))
	out, err := ui.Produce(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, out.Code, "<nav")
	assert.Equal(t, "navbar", out.Meta.CapabilityUsed)
	assert.Equal(t, 150, out.Meta.TokensUsed)
	assert.False(t, out.Meta.Cached)
}

func TestUIAgentListsComponentsWithoutMatch(t *testing.T) {
	ui, err := defaultAgents(t).Get(KindUI)
	require.NoError(t, err)

	in := AgentInput{UserRequest: "make something pretty"}
	assert.True(t, ui.CanHandle(in), "ui triggers accept generic build verbs")
	out, err := ui.Produce(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Code)
	assert.Contains(t, out.Content, "I can create the following UI components: navbar, form, card")
	assert.Equal(t, EstimateTokens(out.Content), out.Meta.TokensUsed)
}

func TestUIAgentOwnsUnclaimedCapabilities(t *testing.T) {
	caps, err := NewCapabilityRegistry(
		staticCapability("navbar", 8, "navbar"),
		staticCapability("stepper", 6, "stepper"),
	)
	require.NoError(t, err)
	agents, err := NewDefaultAgents(caps, AgentOptions{})
	require.NoError(t, err)
	ui, err := agents.Get(KindUI)
	require.NoError(t, err)
	assert.Contains(t, ui.Capabilities(), "stepper")
	assert.True(t, ui.CanHandle(AgentInput{UserRequest: "a stepper"}))
}

func TestAnalysisAgentModes(t *testing.T) {
	analysis, err := defaultAgents(t).Get(KindAnalysis)
	require.NoError(t, err)
	ctx := context.Background()

	code := AgentInput{
		UserRequest: "look",
		Attachments: []Attachment{
			{Name: "shot.png", Kind: AttachmentImage},
			{Name: "Button.tsx", Kind: AttachmentCode, Content: "a\nb\nc\n"},
		},
	}
	require.True(t, analysis.CanHandle(code))
	out, err := analysis.Produce(ctx, code)
	require.NoError(t, err)
	assert.Contains(t, out.Content, "## Code Analysis: Button.tsx")
	assert.Contains(t, out.Content, "3 lines of source")
	assert.NotEmpty(t, out.Code)
	assert.Equal(t, "code-analysis", out.Meta.CapabilityUsed)
	assert.Equal(t, EstimateTokens(out.Content), out.Meta.TokensUsed)

	image := AgentInput{Attachments: []Attachment{{Name: "shot.png", Kind: AttachmentImage}}}
	out, err = analysis.Produce(ctx, image)
	require.NoError(t, err)
	assert.Contains(t, out.Content, "## Image Analysis: shot.png")
	assert.Empty(t, out.Code)
	assert.Equal(t, "image-analysis", out.Meta.CapabilityUsed)

	plain := AgentInput{UserRequest: "please review my layout"}
	require.True(t, analysis.CanHandle(plain))
	out, err = analysis.Produce(ctx, plain)
	require.NoError(t, err)
	assert.Contains(t, out.Content, `Your request: "please review my layout"`)
	assert.Equal(t, "general-analysis", out.Meta.CapabilityUsed)

	assert.False(t, analysis.CanHandle(AgentInput{UserRequest: "create a navbar"}))
}

func TestGeneralAgentModes(t *testing.T) {
	general, err := defaultAgents(t).Get(KindGeneral)
	require.NoError(t, err)
	assert.True(t, general.CanHandle(AgentInput{}))

	cases := []struct {
		request string
		heading string
		code    bool
	}{
		{"where is the login page", "## Search", false},
		{"what is a hook", "## Explanation", false},
		{"please refactor this", "## Refactoring Suggestions", true},
		{"", "## How can I help?", false},
	}
	for _, tc := range cases {
		out, err := general.Produce(context.Background(), AgentInput{UserRequest: tc.request})
		require.NoError(t, err, tc.request)
		assert.Contains(t, out.Content, tc.heading, tc.request)
		assert.Equal(t, tc.code, out.Code != "", tc.request)
		assert.Equal(t, "general", out.Meta.CapabilityUsed)
		assert.Positive(t, out.Meta.TokensUsed)
	}
}

func TestProduceWithCapabilityWithoutMatch(t *testing.T) {
	caps, err := NewCapabilityRegistry(staticCapability("x", 1, "xyz"))
	require.NoError(t, err)
	p := agentProfile{id: "p", capabilities: []string{"x"}}
	out, err := produceWithCapability(context.Background(), caps, p, AgentInput{UserRequest: "hello"})
	require.NoError(t, err)
	assert.Equal(t, cannotProcessText, out.Content)
	assert.Zero(t, out.Meta.TokensUsed)

	out, err = produceWithCapability(context.Background(), caps, p, AgentInput{UserRequest: "xyz"})
	require.NoError(t, err)
	assert.Equal(t, "x", out.Meta.CapabilityUsed)
	assert.Equal(t, EstimateTokens("x"), out.Meta.TokensUsed)
}
