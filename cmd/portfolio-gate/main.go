package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dlorenzo/portfolio-gate/internal/accesslog"
	"github.com/dlorenzo/portfolio-gate/internal/config"
	"github.com/dlorenzo/portfolio-gate/internal/credential"
	"github.com/dlorenzo/portfolio-gate/internal/gateway"
	"github.com/dlorenzo/portfolio-gate/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "portfolio-gate",
		Short: "Password gate and audit trail for a private portfolio",
	}

	root.AddCommand(
		runCmd(),
		hashCmd(),
		logsCmd(),
		statsCmd(),
		healthcheckCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("portfolio-gate starting")

	logs, err := accesslog.New(cfg.LogDir, cfg.LogRotateMaxLines, log)
	if err != nil {
		return fmt.Errorf("open access log: %w", err)
	}
	defer logs.Close()

	gw := gateway.New(cfg, logs, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return gw.Run(ctx)
}

// hashCmd derives a bcrypt hash for the given password so operators can
// populate PASSWORD_HASH instead of the plaintext fallback.
func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <password>",
		Short: "Print a bcrypt hash for the given password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := credential.Hash(args[0])
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Printf("PASSWORD_HASH=%s\n", hash)
			return nil
		},
	}
}

// logsCmd prints recent audit entries from the current partition.
func logsCmd() *cobra.Command {
	var (
		limit       int
		failedOnly  bool
		successOnly bool
		rateLimited bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent access log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := accesslog.New(cfg.LogDir, cfg.LogRotateMaxLines, zerolog.Nop())
			if err != nil {
				return fmt.Errorf("open access log: %w", err)
			}
			defer store.Close()

			entries, err := store.ReadRecent(limit)
			if err != nil {
				return fmt.Errorf("read access log: %w", err)
			}

			printed := 0
			for _, e := range entries {
				switch {
				case failedOnly && e.Success:
					continue
				case successOnly && !e.Success:
					continue
				case rateLimited && e.Reason != accesslog.ReasonRateLimitExceeded:
					continue
				}
				printEntry(e)
				printed++
			}
			if printed == 0 {
				fmt.Println("no matching entries")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to print")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only failed attempts")
	cmd.Flags().BoolVar(&successOnly, "success", false, "only successful logins")
	cmd.Flags().BoolVar(&rateLimited, "rate-limited", false, "only rate-limited attempts")
	return cmd
}

func printEntry(e accesslog.Entry) {
	outcome := "FAIL"
	if e.Success {
		outcome = "OK"
	}
	line := fmt.Sprintf("%s  %-4s  %-18s  %s",
		e.Timestamp.Format("2006-01-02 15:04:05"), outcome, e.IP, e.Reason)
	if e.AttemptsRemaining != nil {
		line += fmt.Sprintf("  (attempts remaining: %d)", *e.AttemptsRemaining)
	}
	fmt.Println(line)
}

// statsCmd summarises the current partition.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print access log statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := accesslog.New(cfg.LogDir, cfg.LogRotateMaxLines, zerolog.Nop())
			if err != nil {
				return fmt.Errorf("open access log: %w", err)
			}
			defer store.Close()

			stats, err := store.GetStats()
			if err != nil {
				return fmt.Errorf("read access log: %w", err)
			}

			fmt.Printf("total attempts:   %d\n", stats.Total)
			fmt.Printf("successful:       %d\n", stats.Successful)
			fmt.Printf("failed:           %d\n", stats.Failed)
			fmt.Printf("rate limited:     %d\n", stats.RateLimited)
			fmt.Printf("unique addresses: %d\n", stats.UniqueIPs)
			if !stats.LastAccess.IsZero() {
				fmt.Printf("last access:      %s\n", stats.LastAccess.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}

// healthcheckCmd exits 0 if the health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("portfolio-gate %s\n", Version)
		},
	}
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
