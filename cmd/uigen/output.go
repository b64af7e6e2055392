package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"uigen/internal/catalog"
	"uigen/internal/runtime"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func statusLabel(s runtime.Status) string {
	label := fmt.Sprintf("[%s]", s)
	switch s {
	case runtime.StatusCompleted:
		return green(label)
	case runtime.StatusFailed:
		return red(label)
	default:
		return cyan(label)
	}
}

// progressPrinter renders one line per progress event.
func progressPrinter(w io.Writer) runtime.ProgressFunc {
	return func(p runtime.Progress) {
		line := statusLabel(p.Status)
		if p.TotalTasks > 0 {
			line += fmt.Sprintf(" %d/%d", p.CompletedTasks, p.TotalTasks)
		}
		if len(p.RunningTasks) > 0 {
			names := make([]string, 0, len(p.RunningTasks))
			for _, t := range p.RunningTasks {
				names = append(names, t.AgentID)
			}
			line += " running: " + strings.Join(names, ", ")
		}
		fmt.Fprintln(w, gray(line))
	}
}

func printResponse(w io.Writer, resp runtime.Response) {
	fmt.Fprintln(w, resp.Content)
	if resp.Code != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s\n", bold("--- "+catalog.DetectComponent(resp.Code)+" ---"))
		fmt.Fprintln(w, resp.Code)
	}
	m := resp.Meta
	summary := fmt.Sprintf("tasks=%d cached=%d failed=%d tokens=%d duration=%s",
		m.TasksExecuted, m.CachedResults, m.FailedTasks, m.TotalTokensUsed, m.TotalDuration.Round(1e6))
	fmt.Fprintln(w, gray(summary))
}

func printCacheStats(w io.Writer, s runtime.CacheStats) {
	fmt.Fprintf(w, "cache: %d/%d entries, max age %s, hits=%d misses=%d\n", s.Size, s.MaxSize, s.MaxAge, s.Hits, s.Misses)
}

// printMetrics writes every sample of the gathered families as name{labels} value.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	lines := []string{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%gs", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, gray(l))
	}
	return nil
}
