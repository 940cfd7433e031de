package main

import (
	"context"
	"os"

	"dumphook/internal/check"
	"dumphook/internal/keys"
	"dumphook/internal/list"

	"github.com/urfave/cli/v3"
)

func listDumps(ctx context.Context, cmd *cli.Command) error {
	return list.Run(ctx, cmd.String("config"), cmd.String("name"), os.Stdout)
}

func checkConfig(ctx context.Context, cmd *cli.Command) error {
	return check.Run(ctx, cmd.String("config"), os.Stdout)
}

func generateKey(ctx context.Context, outPath string) error {
	_, err := keys.Generate(ctx, outPath, os.Stdout)
	return err
}

func testKeys(ctx context.Context, configPath, privateKeyPath string) error {
	return keys.Run(ctx, configPath, privateKeyPath, os.Stdout)
}
