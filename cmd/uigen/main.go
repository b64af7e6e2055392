package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"uigen/internal/logging"
	"uigen/internal/project"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdin, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

// cli is the state shared by all subcommands once the workspace is loaded.
type cli struct {
	in  io.Reader
	out io.Writer

	v         *viper.Viper
	workspace string
	project   *project.Project
	logger    *zap.Logger
}

// configFlags maps config keys to the persistent flags that override them.
var configFlags = map[string]string{
	"workspace":                   "workspace",
	"logging.level":               "log-level",
	"logging.json":                "log-json",
	"dispatcher.stage_delay_ms":   "stage-delay-ms",
	"dispatcher.max_parallel":     "max-parallel",
	"dispatcher.simulate_latency": "simulate-latency",
	"cache.max_size":              "cache-size",
	"metrics.enabled":             "metrics",
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "uigen",
		Short: "uigen - plan, run and aggregate UI generation agents",
		Long: `uigen routes a request to the ui, analysis and general agents, runs
them with bounded parallelism behind a result cache and prints the merged
answer with the generated component code.

Configuration is read from uigen.yaml in the workspace, then UIGEN_*
environment variables (UIGEN_CACHE_MAX_SIZE, UIGEN_LOGGING_LEVEL, ...),
then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.String("workspace", ".", "workspace directory holding uigen.yaml")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Bool("log-json", false, "emit JSON logs")
	pf.Int("stage-delay-ms", 0, "pause between dispatcher stages")
	pf.Int("max-parallel", 0, "max concurrent tasks per group (0 = unbounded)")
	pf.Bool("simulate-latency", true, "keep the simulated agent latency")
	pf.Int("cache-size", 0, "result cache capacity")
	pf.Bool("metrics", false, "print dispatcher metrics after each request")

	root.AddCommand(
		c.newRunCommand(),
		c.newChatCommand(),
		c.newCapabilitiesCommand(),
		c.newAgentsCommand(),
		c.newInitCommand(),
		c.newValidateCommand(),
	)
	return root
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("UIGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func (c *cli) setup(cmd *cobra.Command) error {
	c.v = newConfigViper()
	for key, name := range configFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := c.v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	abs, err := filepath.Abs(c.v.GetString("workspace"))
	if err != nil {
		return err
	}
	c.workspace = abs

	// init writes the workspace, so there is nothing to load yet
	if cmd.Name() == "init" {
		return nil
	}
	p, err := project.Load(abs)
	if err != nil {
		return err
	}
	applyOverrides(c.v, &p.Root)
	c.project = p

	logger, err := logging.New(logging.Options{Level: p.Root.Logging.Level, JSON: p.Root.Logging.JSON})
	if err != nil {
		return err
	}
	c.logger = logger.With(zap.String("workspace", abs))
	return nil
}

// applyOverrides copies env and flag values that were explicitly set over
// the file configuration.
func applyOverrides(v *viper.Viper, root *project.RootConfig) {
	if v.IsSet("logging.level") {
		root.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("logging.json") {
		root.Logging.JSON = v.GetBool("logging.json")
	}
	if v.IsSet("dispatcher.stage_delay_ms") {
		root.Dispatcher.StageDelayMS = v.GetInt("dispatcher.stage_delay_ms")
	}
	if v.IsSet("dispatcher.max_parallel") {
		root.Dispatcher.MaxParallel = v.GetInt("dispatcher.max_parallel")
	}
	if v.IsSet("dispatcher.simulate_latency") {
		root.Dispatcher.SimulateLatency = v.GetBool("dispatcher.simulate_latency")
	}
	if v.IsSet("cache.max_size") {
		root.Cache.MaxSize = v.GetInt("cache.max_size")
	}
	if v.IsSet("cache.max_age_ms") {
		root.Cache.MaxAgeMS = v.GetInt("cache.max_age_ms")
	}
	if v.IsSet("metrics.enabled") {
		root.Metrics.Enabled = v.GetBool("metrics.enabled")
	}
}
