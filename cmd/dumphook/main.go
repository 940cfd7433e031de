package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	keyFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: "Dump name",
		},
		&cli.StringFlag{
			Name:  "created-on",
			Usage: "Key the snapshot by creation time (RFC3339); the seed command sees it as DUMP_HOOK_NOW",
		},
		&cli.StringFlag{
			Name:  "actual",
			Usage: "Key the snapshot by a rolling tag (overrides the configured one)",
		},
	}

	cmd := &cli.Command{
		Name:    "dumphook",
		Usage:   "Memoize database fixture seeding with native dump and restore tools",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to configuration yaml file",
				Value: "dump_hook.yaml",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment variables from a .env file before anything else",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level from the configuration",
			},
		},
		Before: loadEnvFile,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Restore the named dump, or run the seed command and capture it",
				ArgsUsage: "-- <seed command> [args...]",
				Flags: append(keyFlags,
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Seed and capture again even if a snapshot exists",
					},
				),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runDump(ctx, cmd)
				},
			},
			{
				Name:  "restore",
				Usage: "Restore an existing dump without seeding",
				Flags: keyFlags,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return restoreDump(ctx, cmd)
				},
			},
			{
				Name:  "clean",
				Usage: "Remove every local generation of a dump",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Dump name",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return cleanDump(ctx, cmd)
				},
			},
			{
				Name:  "list",
				Usage: "List local snapshots as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Only list generations of this dump",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return listDumps(ctx, cmd)
				},
			},
			{
				Name:  "check",
				Usage: "Verify configuration, dump tools and remote cache access",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return checkConfig(ctx, cmd)
				},
			},
			{
				Name:  "genkey",
				Usage: "Generate public and private key pair for the remote cache",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the private key to this file instead of printing it",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return generateKey(ctx, cmd.String("output"))
				},
			},
			{
				Name:  "test-keys",
				Usage: "Test if public and private key pair match",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "private-key",
						Usage: "Path to age private key file (defaults to remote.age_identity_file)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return testKeys(ctx, cmd.String("config"), cmd.String("private-key"))
				},
			},
		},
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		// Check if error is due to context cancellation (user interrupt)
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\n⚠ Interrupted by user")
			os.Exit(130) // Standard exit code for SIGINT
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
