package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"uigen/internal/runtime"
)

func (c *cli) newCapabilitiesCommand() *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "List built-in and workspace capabilities",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := runtime.NewDefaultCapabilities(c.project.Capabilities, runtime.CapabilityOptions{})
			if err != nil {
				return err
			}
			if match != "" {
				matches := caps.FindMatches(match, nil)
				if len(matches) == 0 {
					fmt.Fprintln(c.out, gray("no capability matches"))
				}
				for _, m := range matches {
					fmt.Fprintf(c.out, "%-12s confidence=%.1f priority=%d\n", cyan(m.Capability.ID), m.Confidence, m.Capability.Priority)
				}
				return nil
			}
			for _, cp := range caps.List() {
				fmt.Fprintf(c.out, "%s  %s\n", bold(cp.ID), cp.Description)
				fmt.Fprintf(c.out, "    priority=%d triggers=%s\n", cp.Priority, strings.Join(cp.Triggers, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "rank capabilities against this text instead of listing them")
	return cmd
}

func (c *cli) newAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents by priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := c.newDispatcher()
			if err != nil {
				return err
			}
			for _, a := range d.Agents().SortedByPriority() {
				fmt.Fprintf(c.out, "%s (%s)  %s\n", bold(a.ID()), a.Kind(), a.Description())
				fmt.Fprintf(c.out, "    priority=%d max_context_tokens=%d capabilities=%s\n",
					a.Priority(), a.MaxContextTokens(), strings.Join(a.Capabilities(), ", "))
			}
			return nil
		},
	}
}
