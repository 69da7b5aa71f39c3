// authctl runs token housekeeping against the auth database: pruning
// expired blacklist and ledger rows, and force-revoking a user.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/clock"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/powder-backend/internal/services"
	"github.com/google/uuid"
)

const usage = `usage: authctl <command> [flags]

commands:
  prune                  delete expired revocation, rotation, browser session and log rows
  revoke --user <id>     revoke every token and session of a user
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "prune":
		return runPrune(rest, out)
	case "revoke":
		return runRevoke(rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", command)
}

func connect() (*config.Config, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Setup(cfg.AppEnv)
	if err := database.Connect(cfg); err != nil {
		return nil, err
	}
	if err := database.MigrateAuth(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, nil
}

func runPrune(args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("authctl prune", pflag.ContinueOnError)
	timeout := flagSet.Duration("timeout", 5*time.Minute, "overall timeout")
	skipLogs := flagSet.Bool("skip-logs", false, "keep system_logs rows")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := connect()
	if err != nil {
		return err
	}
	defer database.Close()

	clk := clock.Real()
	stores := services.NewGormAuthStores(database.DB, clk)
	identity := services.NewLocalIdentityProvider(database.DB, nil, cfg.SessionCookieTTL, clk)

	janitor := services.NewJanitor(cfg.PruneInterval)
	janitor.Add("revoked_tokens", stores.Revocations.Prune)
	janitor.Add("rotation_records", stores.Rotations.Prune)
	janitor.Add("browser_sessions", identity.PruneBrowserSessions)
	if !*skipLogs {
		janitor.Add("system_logs", func(ctx context.Context) (int64, error) {
			return logging.PruneSystemLogs(ctx, database.DB, clk.Now(), cfg.LogRetention)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	counts, err := janitor.RunOnce(ctx)
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%-18s %d\n", name, counts[name])
	}
	return err
}

func runRevoke(args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("authctl revoke", pflag.ContinueOnError)
	userID := flagSet.String("user", "", "account id to revoke")
	reason := flagSet.String("reason", services.ReasonAdmin, "reason recorded on blacklist entries")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if _, err := uuid.Parse(*userID); err != nil {
		return fmt.Errorf("--user must be an account id: %w", err)
	}

	cfg, err := connect()
	if err != nil {
		return err
	}
	defer database.Close()

	clk := clock.Real()
	stores := services.NewGormAuthStores(database.DB, clk)
	identity := services.NewLocalIdentityProvider(database.DB, nil, cfg.SessionCookieTTL, clk)
	codec := services.NewTokenCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry, clk)
	authService := services.NewAuthService(codec, services.NewIdentityResolver(identity), identity, stores, services.NewGormTxRunner(database.DB, clk), clk)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := authService.RevokeAllSessions(ctx, *userID, *reason)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked %s: %d sessions ended\n", *userID, n)
	return nil
}
