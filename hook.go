// Package dumphook memoizes fixture seeding. A named dump either restores a
// previously captured database snapshot or runs the seeding work once, captures
// the result and restores it on every later run.
//
//	hook, err := dumphook.Setup(func(s *dumphook.Settings) {
//		s.Database = "app_test"
//	})
//	...
//	err = hook.Run(ctx, "users", func(ctx context.Context) error {
//		return seedUsers(ctx, db)
//	}, dumphook.Actual(schemaVersion))
package dumphook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"dumphook/internal/clock"
	"dumphook/internal/config"
	"dumphook/internal/crypto"
	"dumphook/internal/engine"
	"dumphook/internal/lock"
	"dumphook/internal/manifest"
	"dumphook/internal/snapshot"
	"dumphook/internal/util"

	"filippo.io/age"
)

type (
	Settings = config.Settings
	Source   = config.Source
	Engine   = config.Engine
)

const (
	EnginePostgres = config.EnginePostgres
	EngineMySQL    = config.EngineMySQL
)

// ErrSnapshotNotFound is returned by Restore when no generation exists for the
// requested name and key, locally or in the remote cache.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SeedFunc populates the database. ctx carries the hook clock, see Now.
type SeedFunc func(ctx context.Context) error

// Adapter dumps and restores one source.
type Adapter interface {
	Dump(ctx context.Context, path string) error
	Restore(ctx context.Context, path string) error
}

// AdapterFactory builds the adapter for a source.
type AdapterFactory func(src Source) (Adapter, error)

const defaultLockPoll = 200 * time.Millisecond

type Hook struct {
	settings *Settings
	adapters AdapterFactory
	clock    *clock.Scope
	logger   *slog.Logger
	lockPoll time.Duration

	remoteMu  sync.Mutex
	remote    RemoteStore
	recipient age.Recipient
	identity  age.Identity
}

type Option func(*Hook)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) { h.logger = logger }
}

// WithAdapterFactory replaces the adapters driving the native dump tools.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(h *Hook) { h.adapters = f }
}

// WithRunner keeps the native adapters but runs their commands through r.
func WithRunner(r engine.Runner) Option {
	return func(h *Hook) { h.adapters = nativeAdapters(h.settings, r) }
}

// WithRemote replaces the S3 backend built from the remote settings.
func WithRemote(r RemoteStore) Option {
	return func(h *Hook) { h.remote = r }
}

// WithClock sets the clock seen outside frozen scopes.
func WithClock(c clock.Clock) Option {
	return func(h *Hook) { h.clock = clock.NewScope(c) }
}

func WithLockPoll(d time.Duration) Option {
	return func(h *Hook) { h.lockPoll = d }
}

// Setup builds fresh settings from the defaults, lets fn adjust them and
// returns a hook bound to them. Every call starts from the defaults again.
func Setup(fn func(*Settings), opts ...Option) (*Hook, error) {
	return New(config.Setup(fn), opts...)
}

func New(s *Settings, opts ...Option) (*Hook, error) {
	if s == nil {
		s = config.Setup(nil)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	h := &Hook{
		settings: s,
		clock:    clock.NewScope(nil),
		logger:   slog.Default(),
		lockPoll: defaultLockPoll,
	}
	h.adapters = nativeAdapters(s, nil)
	for _, opt := range opts {
		opt(h)
	}

	if s.Remote.AgePublicKey != "" {
		recipient, err := age.ParseX25519Recipient(s.Remote.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse age public key: %w", err)
		}
		h.recipient = recipient
	}
	if s.Remote.AgeIdentityFile != "" {
		identity, err := crypto.LoadIdentity(s.Remote.AgeIdentityFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load age identity: %w", err)
		}
		h.identity = identity
	}

	return h, nil
}

func nativeAdapters(s *Settings, r engine.Runner) AdapterFactory {
	return func(src Source) (Adapter, error) {
		return engine.New(src, engine.Options{
			Runner:       r,
			Tools:        s.Tools,
			ExcludeTable: s.ExcludeTable,
		})
	}
}

func (h *Hook) Settings() *Settings {
	return h.settings
}

// Now is the hook clock: frozen while a seed with a creation time runs, the
// wall clock otherwise.
func (h *Hook) Now() time.Time {
	return h.clock.Now()
}

// Now returns the time seen by the seeding block that received ctx.
func Now(ctx context.Context) time.Time {
	return clock.Now(ctx)
}

// Path is where the generation of name for the given options lives.
func (h *Hook) Path(name string, opts ...RunOption) string {
	return snapshot.Path(h.settings.DumpsLocation, name, h.key(opts), h.settings.MultiSource())
}

// Run restores the snapshot of name when one exists for the effective key.
// Otherwise it runs seed once, captures every source and keeps the snapshot
// for later runs.
func (h *Hook) Run(ctx context.Context, name string, seed SeedFunc, opts ...RunOption) error {
	if name == "" {
		return fmt.Errorf("dump name must be specified")
	}
	if seed == nil {
		return fmt.Errorf("seed function must be specified")
	}

	s := h.settings
	key := h.key(opts)
	multi := s.MultiSource()

	// Ensure dumps location
	if err := util.EnsureDirs(s.DumpsLocation); err != nil {
		return err
	}

	if s.Lock {
		if err := util.EnsureDirs(filepath.Dir(h.lockPath(name))); err != nil {
			return err
		}
		release, err := lock.AcquireWait(ctx, h.lockPath(name), name, h.lockPoll)
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		defer func() {
			if err := release(); err != nil {
				h.logger.Warn("Failed to release lock", "dump", name, "error", err)
			}
		}()
	}

	path := snapshot.Path(s.DumpsLocation, name, key, multi)
	log := h.logger.With("dump", name, "key", key.String(), "path", path)

	if !s.Regenerate {
		exists, err := snapshot.Exists(path, multi)
		if err != nil {
			return fmt.Errorf("failed to stat snapshot: %w", err)
		}
		if exists {
			log.Info("Restoring snapshot")
			return h.restore(ctx, name, path)
		}

		if s.Remote.Enabled {
			hit, err := h.pull(ctx, path)
			switch {
			case err != nil:
				log.Warn("Failed to pull snapshot from remote cache, seeding instead", "error", err)
			case hit:
				log.Info("Restoring snapshot pulled from remote cache")
				return h.restore(ctx, name, path)
			}
		}
	} else {
		log.Info("Regeneration requested, ignoring existing snapshot")
	}

	return h.capture(ctx, name, key, path, seed, log)
}

// Restore replays an existing generation without seeding.
func (h *Hook) Restore(ctx context.Context, name string, opts ...RunOption) error {
	if name == "" {
		return fmt.Errorf("dump name must be specified")
	}

	s := h.settings
	multi := s.MultiSource()
	path := snapshot.Path(s.DumpsLocation, name, h.key(opts), multi)

	exists, err := snapshot.Exists(path, multi)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}
	if !exists && s.Remote.Enabled {
		if err := util.EnsureDirs(s.DumpsLocation); err != nil {
			return err
		}
		exists, err = h.pull(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to pull snapshot: %w", err)
		}
	}
	if !exists {
		return fmt.Errorf("%s: %w", path, ErrSnapshotNotFound)
	}

	h.logger.Info("Restoring snapshot", "dump", name, "path", path)
	return h.restore(ctx, name, path)
}

// Clean removes every local generation of name, whatever its key, and returns
// the removed paths.
func (h *Hook) Clean(name string) ([]string, error) {
	if name == "" {
		return nil, fmt.Errorf("dump name must be specified")
	}

	s := h.settings
	paths, err := snapshot.AllGenerations(s.DumpsLocation, name, s.MultiSource())
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, p := range paths {
		if err := snapshot.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
		h.logger.Info("Removed snapshot", "dump", name, "path", p)
	}
	return removed, nil
}

func (h *Hook) key(opts []RunOption) snapshot.Key {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	switch {
	case !ro.createdOn.IsZero():
		return snapshot.Key{CreatedOn: ro.createdOn}
	case ro.hasActual:
		return snapshot.Key{Actual: ro.actual}
	default:
		return snapshot.Key{Actual: h.settings.Actual}
	}
}

// lockPath sits next to the snapshot, so a name like "nested/users" locks
// in the nested directory.
func (h *Hook) lockPath(name string) string {
	dir, base := filepath.Split(filepath.FromSlash(name))
	return filepath.Join(h.settings.DumpsLocation, dir, "."+base+".lock")
}

func (h *Hook) restore(ctx context.Context, name, path string) error {
	s := h.settings

	if s.VerifyChecksums {
		m, err := manifest.Read(snapshot.ManifestPath(path))
		if err != nil {
			h.logger.Warn("Skipping checksum verification, manifest unreadable", "dump", name, "error", err)
		} else if err := manifest.Verify(s.DumpsLocation, m); err != nil {
			return fmt.Errorf("failed to verify snapshot %s: %w", path, err)
		}
	}

	err := h.forEachSource(path, func(t target, a Adapter) error {
		h.logger.Debug("Restoring source", "dump", name, "source", t.Name, "path", t.Path)
		return a.Restore(ctx, t.Path)
	})
	if err != nil {
		return fmt.Errorf("failed to restore dump %s: %w", name, err)
	}
	return nil
}

func (h *Hook) capture(ctx context.Context, name string, key snapshot.Key, path string, seed SeedFunc, log *slog.Logger) error {
	s := h.settings
	multi := s.MultiSource()

	if key.CreatedOn.IsZero() && key.Actual != "" && s.RemoveOldDumps {
		removed, err := snapshot.RemoveGenerations(s.DumpsLocation, name, multi)
		if err != nil {
			return fmt.Errorf("failed to remove old dumps: %w", err)
		}
		for _, p := range removed {
			log.Info("Removed old snapshot", "removed", p)
		}
	}

	log.Info("Seeding database")
	if err := h.seed(ctx, key, seed); err != nil {
		return fmt.Errorf("seed for dump %s failed: %w", name, err)
	}

	log.Info("Capturing snapshot")
	m, err := h.dump(ctx, name, key, path)
	if err != nil {
		if rmErr := snapshot.Remove(path); rmErr != nil {
			log.Warn("Failed to remove partial snapshot", "error", rmErr)
		}
		return fmt.Errorf("failed to capture dump %s: %w", name, err)
	}

	if s.Remote.Enabled {
		if err := h.push(ctx, path, m); err != nil {
			log.Warn("Failed to push snapshot to remote cache", "error", err)
		}
	}
	return nil
}

// seed runs fn with the hook clock in its context, frozen at the creation time
// when one is set. The clock is released on every exit path.
func (h *Hook) seed(ctx context.Context, key snapshot.Key, fn SeedFunc) error {
	if key.CreatedOn.IsZero() {
		return fn(clock.NewContext(ctx, h.clock.Clock()))
	}

	frozen, release := h.clock.Freeze(key.CreatedOn)
	defer release()
	return fn(clock.NewContext(ctx, frozen))
}

func (h *Hook) dump(ctx context.Context, name string, key snapshot.Key, path string) (*manifest.Snapshot, error) {
	s := h.settings
	multi := s.MultiSource()

	if err := snapshot.Remove(path); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if multi {
		dir = path
	}
	if err := util.EnsureDirs(dir); err != nil {
		return nil, err
	}

	var entries []manifest.SourceEntry
	err := h.forEachSource(path, func(t target, a Adapter) error {
		if err := a.Dump(ctx, t.Path); err != nil {
			return err
		}
		entry, err := manifest.Entry(s.DumpsLocation, t.Name, string(t.Source.Engine), t.Source.Database, t.Path)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := &manifest.Snapshot{
		Name:        name,
		Key:         key.String(),
		MultiSource: multi,
		Datetime:    h.Now().Unix(),
		System:      manifest.GetSystemInfo(),
		Sources:     entries,
	}
	if err := manifest.Write(snapshot.ManifestPath(path), m); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return m, nil
}
