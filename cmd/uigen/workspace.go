package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"uigen/internal/project"
)

func (c *cli) newInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write uigen.yaml and an example capability into the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := project.InitWorkspace(c.workspace, force); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s workspace at %s\n", green("initialized"), c.workspace)
			fmt.Fprintf(c.out, "  %s\n", filepath.Join(c.workspace, project.RootConfigFile))
			fmt.Fprintf(c.out, "  %s (rename to enable)\n", filepath.Join(c.workspace, project.CapabilitiesDir, project.ExampleCapabilityFile))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func (c *cli) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check uigen.yaml and workspace capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verr := project.Validate(c.project)
			if verr == nil {
				fmt.Fprintln(c.out, green("workspace is valid"))
				return nil
			}
			for _, issue := range verr.Issues {
				line := issue.String()
				if issue.Level == project.IssueError {
					line = red(line)
				}
				fmt.Fprintln(c.out, line)
			}
			if verr.HasErrors() {
				return verr
			}
			return nil
		},
	}
}
