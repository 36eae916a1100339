// Command explorer is a local-first client for the district check-in game.
// State lives in a file directory or redis; with DISTRICTWARS_API set, every
// change is also pushed to the authoritative server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()
	var envFile string

	root := &cobra.Command{
		Use:           "explorer",
		Short:         "Capture and defend city districts by checking in",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile == "" {
				return nil
			}
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			env := defaultOptions()
			// flags given explicitly win over the env file
			fl := cmd.Flags()
			if !fl.Changed("data-dir") {
				opts.DataDir = env.DataDir
			}
			if !fl.Changed("redis") {
				opts.RedisAddr = env.RedisAddr
			}
			if !fl.Changed("districts") {
				opts.Districts = env.Districts
			}
			if !fl.Changed("api") {
				opts.APIBase = env.APIBase
			}
			if !fl.Changed("user") {
				opts.User = env.User
			}
			opts.DevUsers = env.DevUsers
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&envFile, "env", "", "load environment variables from this file")
	pf.StringVar(&opts.DataDir, "data-dir", opts.DataDir, "directory for the file store")
	pf.StringVar(&opts.RedisAddr, "redis", opts.RedisAddr, "redis address; overrides the file store")
	pf.StringVar(&opts.RedisPrefix, "redis-prefix", opts.RedisPrefix, "key prefix inside redis")
	pf.StringVar(&opts.Districts, "districts", opts.Districts, "GeoJSON district boundaries (path or URL)")
	pf.StringVar(&opts.APIBase, "api", opts.APIBase, "remote API base URL, e.g. http://localhost:8080/api/")
	pf.StringVarP(&opts.User, "user", "u", opts.User, "act as this player instead of the last signed-in one")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")

	// run opens the app around fn and always flushes pending syncs.
	run := func(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			return fn(ctx, a, args)
		}
	}

	root.AddCommand(
		signinCmd(run),
		statusCmd(run),
		locateCmd(run),
		checkinCmd(run),
		chargeCmd(run),
		attackCmd(run),
		homeCmd(run),
		historyCmd(run),
		skipCooldownCmd(run),
		standingsCmd(run),
		districtsCmd(run),
		loginCmd(run),
		logoutCmd(run),
		leaderboardCmd(run),
		resetCmd(run),
	)
	return root
}

type runner func(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error

func parseFloat(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
