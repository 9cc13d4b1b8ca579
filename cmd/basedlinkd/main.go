package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	basedlink "github.com/basedlink/basedlink-pay"
	"github.com/basedlink/basedlink-pay/auth"
	"github.com/basedlink/basedlink-pay/clients"
	"github.com/basedlink/basedlink-pay/config"
	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/metrics"
	"github.com/basedlink/basedlink-pay/payments"
	"github.com/basedlink/basedlink-pay/reconcile"
	"github.com/basedlink/basedlink-pay/store"
	"github.com/basedlink/basedlink-pay/types"
)

var version = "dev"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "basedlinkd",
		Short:         "USDC payment links on Base",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "env file to read before the environment")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVerifyCmd() *cobra.Command {
	var (
		amount        string
		recipient     string
		confirmations uint64
		retries       int
		delay         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify <tx-hash>",
		Short: "Verify a USDC transfer on chain",
		Long: `Verify that a transaction moved at least the expected USDC amount to the
recipient with enough confirmations. Prints the verdict as JSON.

EXAMPLES:
  basedlinkd verify 0x2f1c...6050 --amount 9.99 --recipient 0x384a...7848
  basedlinkd verify 0x2f1c...6050 --amount 9.99 --recipient 0x384a...7848 --retries 10 --delay 5s
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireChain(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("confirmations") {
				confirmations = cfg.MinConfirmations
			}

			expected, err := basedlink.DecimalFromString(amount)
			if err != nil {
				return err
			}

			log := logger.NewZapLogger(cfg.LogLevel, "console")
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			bl, err := newBasedlink(ctx, cfg, log, metrics.NoopRecorder{})
			if err != nil {
				return err
			}
			defer bl.Close()

			req := types.VerificationRequest{
				TransactionHash:      args[0],
				ExpectedAmount:       expected,
				ExpectedRecipient:    recipient,
				MinimumConfirmations: confirmations,
			}

			var result *types.VerificationResult
			if retries > 0 {
				result, err = bl.VerifyWithRetry(ctx, req, retries, delay)
			} else {
				result, err = bl.VerifyTokenTransfer(ctx, req)
			}
			if result != nil {
				if encErr := printJSON(result); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				return err
			}
			if !result.IsValid {
				return fmt.Errorf("payment not verified: %s", result.InvalidReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "expected USDC amount, e.g. 9.99 (required)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "address that must receive the transfer (required)")
	cmd.Flags().Uint64Var(&confirmations, "confirmations", 0, "minimum confirmations (default MIN_CONFIRMATIONS)")
	cmd.Flags().IntVar(&retries, "retries", 0, "keep retrying while the transfer is pending or unconfirmed")
	cmd.Flags().DurationVar(&delay, "delay", 5*time.Second, "delay between retries")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("recipient")

	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			defer func() { _ = log.Sync() }()

			st, err := store.NewSQLiteStore(cfg.DatabasePath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			log.Info("database migrated", map[string]any{"path": cfg.DatabasePath})
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-verify pending payments once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireChain(); err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.ReconcileBatchSize
			}

			log := newLogger(cfg)
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			bl, err := newBasedlink(ctx, cfg, log, metrics.NoopRecorder{})
			if err != nil {
				return err
			}
			defer bl.Close()

			st, err := store.NewSQLiteStore(cfg.DatabasePath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := payments.NewService(st, bl.Verifier(),
				payments.WithLogger(log),
				payments.WithNetwork(bl.Network()),
				payments.WithMinConfirmations(cfg.MinConfirmations),
			)
			summary, err := reconcile.New(svc, cfg.ReconcileSchedule, limit, log).RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum payments to check (default RECONCILE_BATCH_SIZE)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		wallet string
		email  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a local session token for testing the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer))
			if err != nil {
				return err
			}
			token, err := v.Issue(auth.Identity{Email: email, WalletAddress: wallet}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&wallet, "wallet", "", "seller wallet address (required)")
	cmd.Flags().StringVar(&email, "email", "", "seller email")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and library information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := basedlink.GetVersion()
			info["build"] = version
			return printJSON(info)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.ZapLogger {
	return logger.NewZapLogger(cfg.LogLevel, cfg.LogFormat)
}

func newBasedlink(ctx context.Context, cfg *config.Config, log logger.Logger, rec metrics.Recorder) (*basedlink.Basedlink, error) {
	return basedlink.New(ctx, basedlink.Config{
		Network:      types.Network(cfg.Network),
		RPCUrl:       cfg.RPCUrl,
		APIKey:       cfg.RPCAPIKey,
		TokenAddress: cfg.USDCContract,
		Timeout:      cfg.VerifyTimeout,
		CallTimeout:  cfg.RPCTimeout,
	},
		basedlink.WithLogger(log),
		basedlink.WithMetrics(rec),
		basedlink.WithBreaker(clients.BreakerSettings{
			Timeout:             cfg.BreakerCooldown,
			ConsecutiveFailures: cfg.BreakerFailures,
		}),
	)
}

func newRecorder(cfg *config.Config) (metrics.Recorder, prometheus.Gatherer) {
	if !cfg.MetricsEnabled {
		return metrics.NoopRecorder{}, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.NewPrometheusRecorder(reg), reg
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
