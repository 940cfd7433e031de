// Package engine drives the native dump and restore tools of each supported
// database engine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"dumphook/internal/config"
	"dumphook/internal/connargs"
)

type Adapter interface {
	Engine() config.Engine
	// Dump writes a data-only snapshot of the database to path.
	Dump(ctx context.Context, path string) error
	// Restore replays the snapshot at path into the existing database.
	Restore(ctx context.Context, path string) error
}

type Options struct {
	Runner       Runner
	Tools        config.Tools
	ExcludeTable string
}

func (o Options) withDefaults() Options {
	d := config.Default()
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
	if o.Tools.PgDump == "" {
		o.Tools.PgDump = d.Tools.PgDump
	}
	if o.Tools.PgRestore == "" {
		o.Tools.PgRestore = d.Tools.PgRestore
	}
	if o.Tools.MySQLDump == "" {
		o.Tools.MySQLDump = d.Tools.MySQLDump
	}
	if o.Tools.MySQL == "" {
		o.Tools.MySQL = d.Tools.MySQL
	}
	return o
}

func New(src config.Source, opts Options) (Adapter, error) {
	opts = opts.withDefaults()

	switch src.Engine {
	case config.EnginePostgres:
		return &Postgres{src: src, opts: opts}, nil
	case config.EngineMySQL:
		return &MySQL{src: src, opts: opts}, nil
	default:
		return nil, fmt.Errorf("source %s: unsupported engine %q", src.Name, src.Engine)
	}
}

// Tools returns the binaries an engine needs, dump tool first.
func Tools(e config.Engine, tools config.Tools) ([]string, error) {
	switch e {
	case config.EnginePostgres:
		return []string{tools.PgDump, tools.PgRestore}, nil
	case config.EngineMySQL:
		return []string{tools.MySQLDump, tools.MySQL}, nil
	default:
		return nil, fmt.Errorf("unsupported engine %q", e)
	}
}

// CheckTools verifies that the binaries for an engine are on PATH.
func CheckTools(e config.Engine, tools config.Tools) error {
	names, err := Tools(e, tools)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s not found in PATH: %w", name, err)
		}
	}
	return nil
}

type Postgres struct {
	src  config.Source
	opts Options
}

func (p *Postgres) Engine() config.Engine { return config.EnginePostgres }

func (p *Postgres) DumpCommand(path string) Command {
	args := []string{"-a", "-x", "-O", "-Fc", "-f", path}
	if p.opts.ExcludeTable != "" {
		args = append(args, "-T", p.opts.ExcludeTable)
	}
	args = append(args, connargs.ForPostgres(p.src)...)
	return Command{Name: p.opts.Tools.PgDump, Args: args}
}

func (p *Postgres) RestoreCommand(path string) Command {
	args := connargs.ForPostgres(p.src)
	args = append(args, path)
	return Command{Name: p.opts.Tools.PgRestore, Args: args}
}

func (p *Postgres) Dump(ctx context.Context, path string) error {
	slog.Info("Running pg_dump", "source", p.src.Name, "database", p.src.Database, "path", path)
	return p.opts.Runner.Run(ctx, p.DumpCommand(path))
}

func (p *Postgres) Restore(ctx context.Context, path string) error {
	slog.Info("Running pg_restore", "source", p.src.Name, "database", p.src.Database, "path", path)
	return p.opts.Runner.Run(ctx, p.RestoreCommand(path))
}

type MySQL struct {
	src  config.Source
	opts Options
}

func (m *MySQL) Engine() config.Engine { return config.EngineMySQL }

func (m *MySQL) DumpCommand(path string) Command {
	conn := connargs.ForMySQL(m.src)
	args := []string{conn[0], "--compress", "--result-file", path}
	if m.opts.ExcludeTable != "" {
		args = append(args, "--ignore-table", m.src.Database+"."+m.opts.ExcludeTable)
	}
	args = append(args, conn[1:]...)
	return Command{Name: m.opts.Tools.MySQLDump, Args: args}
}

func (m *MySQL) RestoreCommand(path string) Command {
	conn := connargs.ForMySQL(m.src)
	args := []string{conn[0], "-e", "source " + path}
	args = append(args, conn[1:]...)
	return Command{Name: m.opts.Tools.MySQL, Args: args}
}

func (m *MySQL) Dump(ctx context.Context, path string) error {
	slog.Info("Running mysqldump", "source", m.src.Name, "database", m.src.Database, "path", path)
	return m.opts.Runner.Run(ctx, m.DumpCommand(path))
}

func (m *MySQL) Restore(ctx context.Context, path string) error {
	slog.Info("Running mysql restore", "source", m.src.Name, "database", m.src.Database, "path", path)
	return m.opts.Runner.Run(ctx, m.RestoreCommand(path))
}
