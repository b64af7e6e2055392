package catalog

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed capabilities.yaml agents.yaml snippets/*.tsx
var files embed.FS

type CapabilityTemplate struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Priority    int      `yaml:"priority"`
	TokensUsed  int      `yaml:"tokens_used"`
	LatencyMS   int      `yaml:"latency_ms"`
	Summary     string   `yaml:"summary"`
	SnippetFile string   `yaml:"snippet_file"`
	// Snippet is filled from SnippetFile when empty.
	Snippet string `yaml:"snippet"`
}

func (c CapabilityTemplate) GetName() string { return c.ID }

type AgentTemplate struct {
	ID               string   `yaml:"id"`
	Kind             string   `yaml:"kind"`
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Capabilities     []string `yaml:"capabilities"`
	Priority         int      `yaml:"priority"`
	MaxContextTokens int      `yaml:"max_context_tokens"`
	LatencyMS        int      `yaml:"latency_ms"`
	Triggers         []string `yaml:"triggers"`
}

type capabilityFile struct {
	Capabilities []CapabilityTemplate `yaml:"capabilities"`
}

type agentFile struct {
	Agents []AgentTemplate `yaml:"agents"`
}

var (
	loadOnce     sync.Once
	loadErr      error
	capabilities []CapabilityTemplate
	agents       []AgentTemplate
)

func load() error {
	loadOnce.Do(func() {
		var cf capabilityFile
		if loadErr = decode("capabilities.yaml", &cf); loadErr != nil {
			return
		}
		for i := range cf.Capabilities {
			c := &cf.Capabilities[i]
			if c.Snippet != "" || c.SnippetFile == "" {
				continue
			}
			s, err := Snippet(c.SnippetFile)
			if err != nil {
				loadErr = fmt.Errorf("capability %q: %w", c.ID, err)
				return
			}
			c.Snippet = s
		}
		var af agentFile
		if loadErr = decode("agents.yaml", &af); loadErr != nil {
			return
		}
		capabilities = cf.Capabilities
		agents = af.Agents
	})
	return loadErr
}

func decode(name string, out any) error {
	b, err := files.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read embedded %s: %w", name, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse embedded %s: %w", name, err)
	}
	return nil
}

// Capabilities returns the built-in capabilities in catalog order.
func Capabilities() ([]CapabilityTemplate, error) {
	if err := load(); err != nil {
		return nil, err
	}
	out := make([]CapabilityTemplate, len(capabilities))
	copy(out, capabilities)
	for i := range out {
		out[i].Triggers = append([]string(nil), out[i].Triggers...)
	}
	return out, nil
}

func GetCapability(id string) (CapabilityTemplate, error) {
	all, err := Capabilities()
	if err != nil {
		return CapabilityTemplate{}, err
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return CapabilityTemplate{}, fmt.Errorf("unknown catalog capability %q", id)
}

// Agents returns the built-in agent definitions in catalog order.
func Agents() ([]AgentTemplate, error) {
	if err := load(); err != nil {
		return nil, err
	}
	out := make([]AgentTemplate, len(agents))
	copy(out, agents)
	for i := range out {
		out[i].Capabilities = append([]string(nil), out[i].Capabilities...)
		out[i].Triggers = append([]string(nil), out[i].Triggers...)
	}
	return out, nil
}

func GetAgent(kind string) (AgentTemplate, error) {
	all, err := Agents()
	if err != nil {
		return AgentTemplate{}, err
	}
	for _, a := range all {
		if a.Kind == kind || a.ID == kind {
			return a, nil
		}
	}
	return AgentTemplate{}, fmt.Errorf("unknown catalog agent %q", kind)
}

// Snippet reads an embedded snippet by file name ("navbar.tsx") or stem ("navbar").
func Snippet(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty snippet name")
	}
	if path.Ext(name) == "" {
		name += ".tsx"
	}
	b, err := files.ReadFile(path.Join("snippets", path.Base(name)))
	if err != nil {
		return "", fmt.Errorf("unknown snippet %q", name)
	}
	return strings.TrimRight(string(b), "\n"), nil
}
