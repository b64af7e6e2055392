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

var ErrUnknownAgent = errors.New("unknown agent")

type AgentKind string

const (
	KindUI       AgentKind = "ui"
	KindAnalysis AgentKind = "analysis"
	KindGeneral  AgentKind = "general"
)

const cannotProcessText = "Cannot process this request. Please try rephrasing."

type Agent interface {
	ID() string
	Kind() AgentKind
	Name() string
	Description() string
	Priority() int
	MaxContextTokens() int
	Capabilities() []string
	CanHandle(in AgentInput) bool
	Produce(ctx context.Context, in AgentInput) (Output, error)
}

// agentProfile carries the static fields every agent shares; concrete agents
// embed it and add their own CanHandle/Produce.
type agentProfile struct {
	id               string
	kind             AgentKind
	name             string
	description      string
	capabilities     []string
	priority         int
	maxContextTokens int
	triggers         []string
	latency          time.Duration
}

func (p agentProfile) ID() string            { return p.id }
func (p agentProfile) Kind() AgentKind       { return p.kind }
func (p agentProfile) Name() string          { return p.name }
func (p agentProfile) Description() string   { return p.description }
func (p agentProfile) Priority() int         { return p.priority }
func (p agentProfile) MaxContextTokens() int { return p.maxContextTokens }
func (p agentProfile) Capabilities() []string {
	return append([]string(nil), p.capabilities...)
}

func (p agentProfile) triggered(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range p.triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func profileFromTemplate(t catalog.AgentTemplate, opts AgentOptions) agentProfile {
	p := agentProfile{
		id:               t.ID,
		kind:             AgentKind(t.Kind),
		name:             coalesce(t.Name, t.ID),
		description:      t.Description,
		capabilities:     append([]string(nil), t.Capabilities...),
		priority:         t.Priority,
		maxContextTokens: t.MaxContextTokens,
		triggers:         append([]string(nil), t.Triggers...),
	}
	if opts.SimulateLatency && t.LatencyMS > 0 {
		p.latency = time.Duration(t.LatencyMS) * time.Millisecond
	}
	return p
}

func canHandleByCapability(caps *CapabilityRegistry, p agentProfile, in AgentInput) bool {
	_, ok := caps.FindBest(in.UserRequest, p.capabilities)
	return ok
}

func produceWithCapability(ctx context.Context, caps *CapabilityRegistry, p agentProfile, in AgentInput) (Output, error) {
	start := time.Now()
	c, ok := caps.FindBest(in.UserRequest, p.capabilities)
	if !ok {
		return Output{
			Content: cannotProcessText,
			Meta:    OutputMeta{Duration: time.Since(start)},
		}, nil
	}
	out, err := c.Run(ctx, in)
	if err != nil {
		return Output{}, fmt.Errorf("capability %s: %w", c.ID, err)
	}
	// zero means the capability did not price itself
	if out.Meta.TokensUsed == 0 {
		out.Meta.TokensUsed = EstimateTokens(out.Content)
	}
	out.Meta.Cached = false
	out.Meta.Duration = time.Since(start)
	out.Meta.CapabilityUsed = c.ID
	return out, nil
}

type uiAgent struct {
	agentProfile
	caps *CapabilityRegistry
}

func (a *uiAgent) CanHandle(in AgentInput) bool {
	return canHandleByCapability(a.caps, a.agentProfile, in) || a.triggered(in.UserRequest)
}

func (a *uiAgent) Produce(ctx context.Context, in AgentInput) (Output, error) {
	out, err := produceWithCapability(ctx, a.caps, a.agentProfile, in)
	if err != nil {
		return Output{}, err
	}
	if out.Code == "" {
		out.Content = a.componentMenu()
		out.Meta.TokensUsed = EstimateTokens(out.Content)
	}
	return out, nil
}

func (a *uiAgent) componentMenu() string {
	names := make([]string, 0, len(a.capabilities))
	for _, id := range a.capabilities {
		if _, ok := a.caps.Find(id); ok {
			names = append(names, id)
		}
	}
	return fmt.Sprintf("I can create the following UI components: %s. Please specify which component you need.", strings.Join(names, ", "))
}

type analysisAgent struct {
	agentProfile
	suggestion string
}

func (a *analysisAgent) CanHandle(in AgentInput) bool {
	for _, att := range in.Attachments {
		if att.Kind == AttachmentCode || att.Kind == AttachmentImage {
			return true
		}
	}
	return a.triggered(in.UserRequest)
}

func (a *analysisAgent) Produce(ctx context.Context, in AgentInput) (Output, error) {
	start := time.Now()
	if err := sleepContext(ctx, a.latency); err != nil {
		return Output{}, err
	}
	var out Output
	if att, ok := firstAttachment(in.Attachments, AttachmentCode); ok {
		out.Content = analyzeCode(coalesce(att.Name, "code"), att.Content)
		out.Code = a.suggestion
		out.Meta.CapabilityUsed = "code-analysis"
	} else if att, ok := firstAttachment(in.Attachments, AttachmentImage); ok {
		out.Content = analyzeImage(coalesce(att.Name, "image"))
		out.Meta.CapabilityUsed = "image-analysis"
	} else {
		out.Content = analyzeRequest(in.UserRequest)
		out.Meta.CapabilityUsed = "general-analysis"
	}
	out.Meta.TokensUsed = EstimateTokens(out.Content)
	out.Meta.Duration = time.Since(start)
	return out, nil
}

func firstAttachment(atts []Attachment, kind AttachmentKind) (Attachment, bool) {
	for _, a := range atts {
		if a.Kind == kind {
			return a, true
		}
	}
	return Attachment{}, false
}

func analyzeCode(filename, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Code Analysis: %s\n\n", filename)
	b.WriteString("### Structure\n")
	if lines := countLines(content); lines > 0 {
		fmt.Fprintf(&b, "- %d lines of source\n", lines)
	}
	b.WriteString("- File contains a React component\n")
	b.WriteString("- Uses useState and useEffect hooks\n")
	b.WriteString("- Styled with Tailwind CSS\n\n")
	b.WriteString("### Code Quality\n")
	b.WriteString("- **Readability**: Good structure and naming\n")
	b.WriteString("- **Typing**: TypeScript types defined correctly\n")
	b.WriteString("- **Performance**: No obvious issues\n\n")
	b.WriteString("### Recommendations\n")
	b.WriteString("1. Add memoization for expensive computations\n")
	b.WriteString("2. Extract constants to a separate file\n")
	b.WriteString("3. Add error handling")
	return b.String()
}

func countLines(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func analyzeImage(filename string) string {
	return fmt.Sprintf(`## Image Analysis: %s

### Detected UI Elements
- Navigation bar at the top
- Main content in the center
- Sidebar on the left

### Color Scheme
- Primary: blue (#3B82F6)
- Background: light gray (#F3F4F6)
- Text: dark gray (#1F2937)

### Implementation Recommendations
I can create components based on this design. Please specify which element to implement first.`, filename)
}

func analyzeRequest(request string) string {
	return fmt.Sprintf(`## Request Analysis

Your request: %q

For more detailed analysis, please:
1. Attach a code file (.tsx, .ts, .css)
2. Or upload a screenshot/design image

I can analyze:
- Code structure and quality
- UI/UX design from images
- Architectural decisions`, request)
}

type generalMode struct {
	capability string
	triggers   []string
}

var generalModes = []generalMode{
	{capability: "search", triggers: []string{"search", "find", "where", "locate"}},
	{capability: "explain", triggers: []string{"explain", "what is", "how does", "tell me about"}},
	{capability: "refactor", triggers: []string{"refactor", "improve", "optimize", "clean up"}},
}

type generalAgent struct {
	agentProfile
	refactored string
}

// CanHandle is always true: the general agent is the fallback.
func (a *generalAgent) CanHandle(AgentInput) bool { return true }

func (a *generalAgent) Produce(ctx context.Context, in AgentInput) (Output, error) {
	start := time.Now()
	if err := sleepContext(ctx, a.latency); err != nil {
		return Output{}, err
	}
	lower := strings.ToLower(in.UserRequest)
	mode := "general"
	for _, m := range generalModes {
		if containsAny(lower, m.triggers) {
			mode = m.capability
			break
		}
	}
	var out Output
	switch mode {
	case "search":
		out.Content = fmt.Sprintf("## Search\n\nLooking for: %q\n\nThe component library has no match indexed for this query yet. Try naming a component (navbar, form, card, table) or attach the file you want me to look at.", in.UserRequest)
	case "explain":
		out.Content = fmt.Sprintf("## Explanation\n\nTopic: %q\n\nComponents here are plain React function components styled with Tailwind CSS utility classes. State lives in hooks (useState, useEffect) and props flow top-down, so each snippet can be pasted into a page and composed with the others.", in.UserRequest)
	case "refactor":
		out.Content = "## Refactoring Suggestions\n\n1. Split large components into smaller focused ones\n2. Move repeated class lists into shared constants\n3. Memoize derived values and callbacks\n4. Type props explicitly"
		out.Code = a.refactored
	default:
		out.Content = fmt.Sprintf("## How can I help?\n\nI received: %q\n\nI can:\n- Create UI components (navbar, form, card, button, modal, table, ...)\n- Analyze attached code or screenshots\n- Search, explain or refactor code\n\nDescribe the component you need to get started.", in.UserRequest)
	}
	out.Meta.TokensUsed = EstimateTokens(out.Content)
	out.Meta.Duration = time.Since(start)
	out.Meta.CapabilityUsed = "general"
	return out, nil
}

func containsAny(lower string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// AgentRegistry maps agent kinds and ids to agents. It is built once at
// startup and read-only afterwards.
type AgentRegistry struct {
	agents []Agent
	byKind map[AgentKind]Agent
	byID   map[string]Agent
}

func NewAgentRegistry(agents ...Agent) (*AgentRegistry, error) {
	r := &AgentRegistry{
		byKind: make(map[AgentKind]Agent, len(agents)),
		byID:   make(map[string]Agent, len(agents)),
	}
	for _, a := range agents {
		if a == nil {
			return nil, fmt.Errorf("nil agent")
		}
		if strings.TrimSpace(a.ID()) == "" {
			return nil, fmt.Errorf("agent id is required")
		}
		if _, dup := r.byID[a.ID()]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID())
		}
		if _, dup := r.byKind[a.Kind()]; dup {
			return nil, fmt.Errorf("duplicate agent kind %q", a.Kind())
		}
		r.byID[a.ID()] = a
		r.byKind[a.Kind()] = a
		r.agents = append(r.agents, a)
	}
	return r, nil
}

func (r *AgentRegistry) Get(kind AgentKind) (Agent, error) {
	a, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, kind)
	}
	return a, nil
}

func (r *AgentRegistry) Lookup(id string) (Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Resolve accepts either an agent kind ("ui") or id ("ui-agent").
func (r *AgentRegistry) Resolve(name string) (Agent, bool) {
	if a, ok := r.byID[name]; ok {
		return a, true
	}
	a, ok := r.byKind[AgentKind(name)]
	return a, ok
}

func (r *AgentRegistry) All() []Agent {
	return append([]Agent(nil), r.agents...)
}

func (r *AgentRegistry) SortedByPriority() []Agent {
	out := r.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return out
}

type AgentOptions struct {
	SimulateLatency bool
}

// NewDefaultAgents builds the ui, analysis and general agents from the
// embedded catalog. Capabilities no catalog agent lists are handed to the ui agent.
func NewDefaultAgents(caps *CapabilityRegistry, opts AgentOptions) (*AgentRegistry, error) {
	if caps == nil {
		return nil, fmt.Errorf("capability registry is nil")
	}
	templates, err := catalog.Agents()
	if err != nil {
		return nil, err
	}
	claimed := map[string]struct{}{}
	for _, t := range templates {
		for _, id := range t.Capabilities {
			claimed[id] = struct{}{}
		}
	}

	agents := make([]Agent, 0, len(templates))
	for _, t := range templates {
		p := profileFromTemplate(t, opts)
		switch p.kind {
		case KindUI:
			for _, c := range caps.List() {
				if _, ok := claimed[c.ID]; !ok {
					p.capabilities = append(p.capabilities, c.ID)
				}
			}
			agents = append(agents, &uiAgent{agentProfile: p, caps: caps})
		case KindAnalysis:
			suggestion, err := catalog.Snippet("suggestion")
			if err != nil {
				return nil, err
			}
			agents = append(agents, &analysisAgent{agentProfile: p, suggestion: suggestion})
		case KindGeneral:
			refactored, err := catalog.Snippet("refactor")
			if err != nil {
				return nil, err
			}
			agents = append(agents, &generalAgent{agentProfile: p, refactored: refactored})
		default:
			return nil, fmt.Errorf("catalog agent %q: %w: %s", t.ID, ErrUnknownAgent, t.Kind)
		}
	}
	return NewAgentRegistry(agents...)
}
