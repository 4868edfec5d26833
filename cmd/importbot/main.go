// Command importbot reconciles user-upload tickets: it classifies intent,
// validates attached user lists, requests human approval on the ticket, and
// creates the approved users and teams in the identity backend.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"importbot/internal/orch"
	"importbot/pkg/ai"
	"importbot/pkg/backend"
	"importbot/pkg/config"
	"importbot/pkg/logx"
	"importbot/pkg/metrics"
	"importbot/pkg/tracker"
	"importbot/pkg/vault"
)

var (
	flagConfig   string
	flagOnce     bool
	flagWatch    bool
	flagInterval int
	flagTicket   string
	flagSingle   bool
	flagDryRun   bool
	flagVerbose  bool
)

func newRootCmd() *cobra.Command {
	flagConfig = ""
	flagOnce = false
	flagWatch = false
	flagInterval = 0
	flagTicket = ""
	flagSingle = false
	flagDryRun = false
	flagVerbose = false

	root := &cobra.Command{
		Use:   "importbot",
		Short: "Autonomous user-upload ticket agent",
		Long: `importbot polls an issue tracker for user-upload tickets, validates the
attached user lists, posts fingerprint-pinned approval requests, and creates
approved users and teams in the identity backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	root.Flags().BoolVar(&flagOnce, "once", false, "run a single pass and exit (the default mode)")
	root.Flags().BoolVarP(&flagWatch, "watch", "w", false, "poll continuously instead of a single pass")
	root.Flags().IntVar(&flagInterval, "interval", 0, "poll interval in seconds for --watch, overriding the config")
	root.Flags().StringVarP(&flagTicket, "ticket", "t", "", "process a single ticket by key and exit")
	root.Flags().BoolVar(&flagSingle, "single-ticket", false, "process only the ticket named by --ticket")
	root.Flags().BoolVar(&flagDryRun, "dry-run", false, "log tracker and backend writes instead of performing them")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "importbot:", err)
		os.Exit(1)
	}
}

func validateFlags() error {
	if flagOnce && flagWatch {
		return fmt.Errorf("--once and --watch are mutually exclusive")
	}
	if flagSingle && flagTicket == "" {
		return fmt.Errorf("--single-ticket requires --ticket")
	}
	if flagTicket != "" && flagWatch {
		return fmt.Errorf("--ticket and --watch are mutually exclusive")
	}
	if flagInterval < 0 {
		return fmt.Errorf("--interval must be positive")
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	if err := validateFlags(); err != nil {
		return err
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagInterval > 0 {
		cfg.PollIntervalSeconds = flagInterval
	}

	level := cfg.LogLevel
	if flagVerbose {
		level = "debug"
	}
	if err := logx.Init(level, cfg.LogFormat); err != nil {
		return err
	}
	defer func() { _ = logx.Sync() }()

	defer func() {
		if r := recover(); r != nil {
			logx.Error("panic", zap.Any("recovered", r), zap.Stack("stack"))
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	switch {
	case flagTicket != "":
		_, err = o.RunSingle(ctx, flagTicket)
	case flagWatch:
		go func() {
			if serr := metrics.Serve(ctx, cfg.MetricsAddr); serr != nil {
				logx.Error("metrics server failed", zap.Error(serr))
			}
		}()
		err = o.Watch(ctx)
	default:
		_, err = o.Run(ctx)
	}
	return err
}

func buildOrchestrator(cfg *config.Config) (*orch.Orchestrator, error) {
	var trk tracker.API = tracker.NewClient(cfg.Tracker.Domain, cfg.Tracker.Email, cfg.Tracker.APIToken)
	if flagDryRun {
		logx.Info("dry-run: tracker writes and backend writes are disabled")
		trk = orch.NewDryRunTracker(trk)
	}

	client, err := ai.NewClient(cfg.AI.APIKey, cfg.AI.Model)
	if err != nil {
		return nil, err
	}
	adapter := ai.NewAdapter(client)
	creds := vault.NewStore(cfg.Vault.Binary, cfg.Vault.VaultName, cfg.Vault.EmailTemplate)

	dial := func() backend.Client { return backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.BaseAltURL) }
	if cfg.Backend.Mock || flagDryRun {
		dial = func() backend.Client { return backend.NewMockClient() }
	}
	pool := backend.NewPool(dial)

	return orch.New(cfg, trk, adapter, creds, pool, nil), nil
}
