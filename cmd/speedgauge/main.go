// Command speedgauge runs browser-based speed tests against eight public
// measurement sites and pushes the scraped results to Zabbix.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/use-agent/speedgauge/browser"
	"github.com/use-agent/speedgauge/config"
	"github.com/use-agent/speedgauge/metrics"
	"github.com/use-agent/speedgauge/sites"
	"github.com/use-agent/speedgauge/throttle"
	"github.com/use-agent/speedgauge/zabbix"
)

const version = "1.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath    string
		dryRun     bool
		headed     bool
		headless   bool
		timeoutSec int
		listSites  bool
		yes        bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:     "speedgauge [site...]",
		Short:   "Automated multi-site speed test runner with Zabbix integration",
		Long:    "Drives a headless Chromium through public speed test sites,\nscrapes the results and pushes them to a Zabbix server.\n\nAvailable sites: " + strings.Join(sites.Names(), ", "),
		Version: version,
		Args: func(cmd *cobra.Command, args []string) error {
			for _, a := range args {
				if sites.Lookup(a) == nil {
					return fmt.Errorf("unknown site %q (see --list-sites)", a)
				}
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listSites {
				fmt.Println("Available test sites:")
				for _, name := range sites.Names() {
					fmt.Printf("  %s\n", name)
				}
				return nil
			}

			path, err := config.Find(cfgPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			// CLI flags override the file.
			if dryRun {
				cfg.General.DryRun = true
			}
			if cmd.Flags().Changed("headless") {
				cfg.General.Headless = headless
			}
			if headed {
				cfg.General.Headless = false
			}
			if cmd.Flags().Changed("timeout") {
				cfg.General.Timeout = timeoutSec
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			initLogger(cfg.Log, debug)
			if path != "" {
				slog.Info("config loaded", "path", path)
			} else {
				slog.Warn("no config file found, using defaults")
			}

			names := args
			if len(names) == 0 {
				names = sites.Names()
			}

			if !yes && stdinIsTTY() && !confirm(names) {
				fmt.Println("Aborted.")
				return nil
			}

			return run(cfg, names, len(args) > 0)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path (default: ./"+config.FileName+" or ~/.config/speedgauge/"+config.FileName+")")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "test run (do not send data to Zabbix)")
	cmd.Flags().BoolVar(&headed, "headed", false, "run Chromium with a visible window")
	cmd.Flags().BoolVar(&headless, "headless", true, "run Chromium headless, overriding the config file")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 30, "interactive wait timeout in seconds")
	cmd.Flags().BoolVar(&listSites, "list-sites", false, "list available test sites and exit")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	cmd.MarkFlagsMutuallyExclusive("headed", "headless")

	return cmd
}

// run owns the browser session lifecycle: acquired once here, released
// exactly once on return, including when a signal interrupts the run.
func run(cfg *config.Config, names []string, explicit bool) error {
	slog.Info("speedgauge: start", "sites", names, "dryrun", cfg.General.DryRun)

	snap, err := browser.NewSnapshotter(cfg.Snapshot.Enable, cfg.Snapshot.Dir)
	if err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	sess, err := browser.NewSession(cfg.General.Headless)
	if err != nil {
		// The only failure fatal to the whole run.
		return fmt.Errorf("browser session: %w", err)
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := throttle.New(cfg.Frequency, explicit)
	sink := metrics.NewSink(cfg.Zabbix.Host, cfg.General.DryRun, func() metrics.Sender {
		return zabbix.NewSender(cfg.Zabbix.Server, cfg.Zabbix.Port)
	})
	runner := sites.NewRunner(sess, gate, sink, snap, cfg)

	runner.Run(ctx, names)

	if ctx.Err() != nil {
		slog.Info("interrupted, shutting down")
	}
	slog.Info("speedgauge: finish")
	return nil
}

func stdinIsTTY() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// confirm asks before connecting to third-party sites.
func confirm(names []string) bool {
	fmt.Printf("speedgauge: connecting to %d site(s) (%s)\n", len(names), strings.Join(names, ", "))
	fmt.Print("Continue? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig, debug bool) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
