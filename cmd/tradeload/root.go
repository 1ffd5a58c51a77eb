package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tradeload/internal/config"
	"tradeload/internal/logger"
	"tradeload/internal/pipeline"
	"tradeload/internal/storage"
)

type app struct {
	cfgPath  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tradeload",
		Short: "Incremental loader for customs import/export extracts",
		Long: `tradeload reads the import/export extracts, the dimension tables and the
currency table, compares per-period row counts with what the warehouse holds
and replaces only the partitions that are new or changed. Dimension and
currency tables are reloaded in full on every run.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "tradeload.yaml", "config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		a.runCmd(),
		a.planCmd(),
		a.initCmd(),
		a.execCmd(),
		a.validateCmd(),
	)
	return root
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Reconcile the sources with the warehouse and load what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			s, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.p.Run(ctx)
			if len(res.Load.Tables) > 0 {
				renderLoad(cmd.OutOrStdout(), res, colorEnabled(cmd.OutOrStdout()))
			}
			return err
		},
	}
}

func (a *app) planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what a run would load without changing the warehouse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			s, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			plan, err := s.p.Plan(ctx)
			if err != nil {
				return err
			}
			renderPlan(cmd.OutOrStdout(), plan, colorEnabled(cmd.OutOrStdout()))
			return nil
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Drop and recreate the schema and its tables",
		Long: `init runs the DROP statements of the init script, drops every table the
sources load, drops and recreates the schema, creates empty text tables shaped
like the source files and runs the rest of the init script. All loaded data is
lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("init drops the whole schema; pass --yes to confirm")
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			s, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			sum, err := s.p.Init(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "init: executed=%d failed=%d\n", sum.Executed, sum.Failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping the schema")
	return cmd
}

func (a *app) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <script.sql>",
		Short: "Run a SQL script statement by statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			s, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			sum, err := s.p.ExecScript(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: executed=%d failed=%d\n", args[0], sum.Executed, sum.Failed)
			if sum.Failed > 0 {
				return fmt.Errorf("%d statement(s) failed", sum.Failed)
			}
			return nil
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Decode(a.cfgPath)
			if err != nil {
				return err
			}
			if err := config.ApplyEnv(&cfg); err != nil {
				return err
			}
			cfg.ApplyDefaults()

			out := cmd.OutOrStdout()
			issues := config.Validate(cfg)
			for _, iss := range issues {
				fmt.Fprintf(out, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if errs := config.Errors(issues); len(errs) > 0 {
				return fmt.Errorf("configuration is invalid: %s", a.cfgPath)
			}
			fmt.Fprintf(out, "configuration is valid: %s (warehouse %s %s)\n",
				a.cfgPath, cfg.Warehouse.Kind, config.RedactDSN(cfg.Warehouse.DSN))
			return nil
		},
	}
}

// session holds what every warehouse command needs.
type session struct {
	p     *pipeline.Pipeline
	close func()
}

// open loads the config, builds the logger and metrics backend and
// connects to the warehouse.
func (a *app) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	log, err := logger.New(logger.Options{
		Service: cfg.Job,
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Out:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	for _, iss := range config.Validate(cfg) {
		if iss.Severity == config.SeverityWarning {
			log.Warnf("config: %s: %s", iss.Path, iss.Message)
		}
	}

	flush := setupMetrics(cfg.Metrics, cfg.Job, log)

	scfg := storage.Config{
		Kind:             cfg.Warehouse.Kind,
		DSN:              config.DriverDSN(cfg.Warehouse.Kind, cfg.Warehouse.DSN),
		BulkMethod:       cfg.Warehouse.BulkMethod,
		ServerStagingDir: cfg.Warehouse.ServerStagingDir,
		BatchSize:        cfg.Warehouse.BatchSize,
		Logger:           log,
	}
	log.WithFields(logger.Fields{
		"kind": scfg.Kind,
		"dsn":  config.RedactDSN(cfg.Warehouse.DSN),
	}).Info("tradeload: connecting to warehouse")
	wh, err := storage.New(ctx, scfg)
	if err != nil {
		flush()
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	return &session{
		p: pipeline.New(cfg, wh, storage.NewOpener(scfg), log),
		close: func() {
			wh.Close()
			flush()
		},
	}, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
