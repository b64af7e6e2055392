package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"uigen/internal/attachments"
	"uigen/internal/runtime"
)

// newDispatcher builds a dispatcher for the loaded workspace. The returned
// registry is nil unless metrics are enabled.
func (c *cli) newDispatcher() (*runtime.Dispatcher, *prometheus.Registry, error) {
	opts := []runtime.Option{runtime.WithLogger(c.logger)}
	var reg *prometheus.Registry
	if c.project.Root.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		opts = append(opts, runtime.WithMetrics(runtime.MustNewMetrics(reg)))
	}
	d, err := runtime.New(c.project, opts...)
	if err != nil {
		return nil, nil, err
	}
	return d, reg, nil
}

// loadAttachments keeps the supported files and reports the rest on stdout.
func (c *cli) loadAttachments(paths []string) ([]runtime.Attachment, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	atts, err := attachments.Load(paths)
	var unsupported *attachments.UnsupportedError
	if errors.As(err, &unsupported) {
		fmt.Fprintln(c.out, red(unsupported.Error()))
		return atts, nil
	}
	return atts, err
}

func (c *cli) newRunCommand() *cobra.Command {
	var (
		attach  []string
		route   string
		asJSON  bool
		quiet   bool
		dryPlan bool
	)
	cmd := &cobra.Command{
		Use:   "run [flags] <request>",
		Short: "Run one request through the dispatcher",
		Example: `  uigen run "create a navbar"
  uigen run --attach src/Button.tsx "analyze this"
  uigen run --route "ui+general>analysis" "build a pricing table"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, reg, err := c.newDispatcher()
			if err != nil {
				return err
			}
			atts, err := c.loadAttachments(attach)
			if err != nil {
				return err
			}
			req := runtime.Request{
				UserRequest: strings.Join(args, " "),
				Attachments: atts,
				Route:       route,
			}

			if dryPlan {
				plan, err := d.Plan(req)
				if err != nil {
					return err
				}
				printPlan(c, plan)
				return nil
			}

			var onProgress runtime.ProgressFunc
			if !quiet && !asJSON {
				onProgress = progressPrinter(c.out)
			}
			resp, err := d.Execute(cmd.Context(), req, onProgress)
			if err != nil {
				return err
			}
			c.logger.Debug("run finished", zap.String("request_id", resp.RequestID))
			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResponse(c.out, resp)
			if reg != nil {
				return printMetrics(c.out, reg)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&attach, "attach", nil, "attach a file (.png .jpg .svg .tsx .ts .json .css), repeatable")
	cmd.Flags().StringVar(&route, "route", "", `explicit agent route, e.g. "ui+general>analysis"`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the response as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide progress lines")
	cmd.Flags().BoolVar(&dryPlan, "plan", false, "only print the execution plan")
	return cmd
}

func printPlan(c *cli, plan runtime.ExecutionPlan) {
	fmt.Fprintf(c.out, "%s tasks=%d groups=%d estimated_tokens=%d\n", bold("plan"), len(plan.Tasks), len(plan.Groups), plan.EstimatedTokens)
	for gi, group := range plan.Groups {
		fmt.Fprintf(c.out, "  group %d\n", gi+1)
		for _, t := range group {
			deps := ""
			if len(t.Dependencies) > 0 {
				deps = " after " + strings.Join(t.Dependencies, ",")
			}
			fmt.Fprintf(c.out, "    %s %s priority=%d history=%d%s\n", t.ID, cyan(t.AgentID), t.Priority, len(t.Input.RelevantHistory), gray(deps))
		}
	}
}
