package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"dumphook"
	"dumphook/internal/config"
	"dumphook/internal/logging"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// NowEnv carries the frozen creation time to the seed command.
const NowEnv = "DUMP_HOOK_NOW"

func loadEnvFile(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return ctx, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return ctx, nil
}

// openHook loads the configuration, installs the configured logger as the
// default and builds the hook. The closer releases the log file.
func openHook(cmd *cli.Command) (*dumphook.Hook, io.Closer, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if l := cmd.String("log-level"); l != "" {
		level = l
	}
	logger, closer, err := logging.NewLogger(logging.Options{Level: level, File: cfg.Log.File})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	hook, err := dumphook.New(cfg, dumphook.WithLogger(logger))
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return hook, closer, nil
}

func keyOptions(cmd *cli.Command) ([]dumphook.RunOption, time.Time, error) {
	var opts []dumphook.RunOption
	var createdOn time.Time

	if v := cmd.String("created-on"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, createdOn, fmt.Errorf("invalid --created-on %q: %w", v, err)
		}
		createdOn = t
		opts = append(opts, dumphook.CreatedOn(t))
	}
	if v := cmd.String("actual"); v != "" {
		opts = append(opts, dumphook.Actual(v))
	}
	return opts, createdOn, nil
}

// seedCommand runs args as the seeding block, with the hook clock exported
// through DUMP_HOOK_NOW when the snapshot is keyed by creation time.
func seedCommand(args []string, frozen bool) dumphook.SeedFunc {
	return func(ctx context.Context) error {
		c := exec.CommandContext(ctx, args[0], args[1:]...)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		c.Env = os.Environ()
		if frozen {
			c.Env = append(c.Env, NowEnv+"="+dumphook.Now(ctx).UTC().Format(time.RFC3339))
		}

		slog.Debug("Running seed command", "args", args)
		if err := c.Run(); err != nil {
			return fmt.Errorf("seed command failed: %w", err)
		}
		return nil
	}
}

func runDump(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	if name == "" {
		return fmt.Errorf("--name must be specified")
	}
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("seed command must be given after --")
	}
	opts, createdOn, err := keyOptions(cmd)
	if err != nil {
		return err
	}

	hook, closer, err := openHook(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	if cmd.Bool("force") {
		hook.Settings().Regenerate = true
	}

	start := time.Now()
	if err := hook.Run(ctx, name, seedCommand(args, !createdOn.IsZero()), opts...); err != nil {
		return err
	}
	slog.Info("Dump ready", "dump", name, "path", hook.Path(name, opts...), "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func restoreDump(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	if name == "" {
		return fmt.Errorf("--name must be specified")
	}
	opts, _, err := keyOptions(cmd)
	if err != nil {
		return err
	}

	hook, closer, err := openHook(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	return hook.Restore(ctx, name, opts...)
}

func cleanDump(_ context.Context, cmd *cli.Command) error {
	hook, closer, err := openHook(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	removed, err := hook.Clean(cmd.String("name"))
	if err != nil {
		return err
	}
	slog.Info("Clean finished", "dump", cmd.String("name"), "removed", len(removed))
	return nil
}
