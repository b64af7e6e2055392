package project

import (
	"fmt"
	"path/filepath"
	"strings"

	"uigen/internal/catalog"
)

var validLogLevels = map[string]struct{}{
	"":      {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func Validate(p *Project) *ValidationError {
	issues := []Issue{}
	if p == nil {
		issues = append(issues, Issue{Level: IssueError, Path: RootConfigFile, Message: "project is nil"})
		return &ValidationError{Issues: issues}
	}

	r := p.Root
	if r.Version <= 0 {
		issues = append(issues, Issue{Level: IssueError, Path: RootConfigFile, Field: "version", Message: "must be >= 1"})
	}
	if r.Cache.MaxSize < 0 {
		issues = append(issues, Issue{Level: IssueError, Path: RootConfigFile, Field: "cache.max_size", Message: "must be >= 0"})
	}
	if r.Cache.MaxAgeMS < 0 {
		issues = append(issues, Issue{Level: IssueError, Path: RootConfigFile, Field: "cache.max_age_ms", Message: "must be >= 0"})
	}
	if r.Cache.MaxSize == 0 {
		issues = append(issues, Issue{Level: IssueWarning, Path: RootConfigFile, Field: "cache.max_size", Message: "0 defaults to 100 entries"})
	}
	if r.Dispatcher.StageDelayMS < 0 {
		issues = append(issues, Issue{Level: IssueError, Path: RootConfigFile, Field: "dispatcher.stage_delay_ms", Message: "must be >= 0"})
	}
	if r.Dispatcher.MaxParallel < 0 {
		issues = append(issues, Issue{Level: IssueError, Path: RootConfigFile, Field: "dispatcher.max_parallel", Message: "must be >= 0"})
	}
	if _, ok := validLogLevels[strings.ToLower(r.Logging.Level)]; !ok {
		issues = append(issues, Issue{Level: IssueError, Path: RootConfigFile, Field: "logging.level", Message: "unsupported log level"})
	}

	builtin := map[string]struct{}{}
	if caps, err := catalog.Capabilities(); err == nil {
		for _, c := range caps {
			builtin[c.ID] = struct{}{}
		}
	}
	seen := map[string]struct{}{}
	for i, c := range p.Capabilities {
		path := p.CapabilityFiles[c.ID]
		if path == "" {
			path = filepath.Join(CapabilitiesDir, fmt.Sprintf("capability[%d]", i))
		}
		path = filepath.Clean(path)
		if strings.TrimSpace(c.ID) == "" {
			issues = append(issues, Issue{Level: IssueError, Path: path, Field: "id", Message: "is required"})
			continue
		}
		if _, ok := seen[c.ID]; ok {
			issues = append(issues, Issue{Level: IssueError, Path: path, Field: "id", Message: "duplicate capability id"})
		}
		seen[c.ID] = struct{}{}
		if _, ok := builtin[c.ID]; ok {
			issues = append(issues, Issue{Level: IssueWarning, Path: path, Field: "id", Message: "overrides built-in capability"})
		}
		if len(c.Triggers) == 0 {
			issues = append(issues, Issue{Level: IssueError, Path: path, Field: "triggers", Message: "at least one trigger is required"})
		}
		for j, t := range c.Triggers {
			if strings.TrimSpace(t) == "" {
				issues = append(issues, Issue{Level: IssueError, Path: path, Field: fmt.Sprintf("triggers[%d]", j), Message: "trigger cannot be empty"})
			}
		}
		if c.Priority < 0 {
			issues = append(issues, Issue{Level: IssueError, Path: path, Field: "priority", Message: "must be >= 0"})
		}
		if c.TokensUsed < 0 {
			issues = append(issues, Issue{Level: IssueError, Path: path, Field: "tokens_used", Message: "must be >= 0"})
		}
		if c.LatencyMS < 0 {
			issues = append(issues, Issue{Level: IssueError, Path: path, Field: "latency_ms", Message: "must be >= 0"})
		}
		if strings.TrimSpace(c.Snippet) == "" {
			issues = append(issues, Issue{Level: IssueWarning, Path: path, Field: "snippet", Message: "capability produces no code snippet"})
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}
