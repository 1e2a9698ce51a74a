// Package sync mirrors a registry base between two blob stores.
//
// A registry lives wholly under one base prefix, so mirroring every key
// clones it: Pull copies remote state into the local store before reads,
// Push publishes local state after writes. Lock files are never mirrored;
// a lock names a holder on the store it was taken on and means nothing on
// the other side.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"gridreg/internal/blob"
	"gridreg/internal/lock"
	"gridreg/pkg/domain"
)

const defaultWorkers = 8

// Logger receives engine progress as structured key-value logs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of concurrent key copies.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger routes engine logs to l.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPrune deletes destination keys that no longer exist on the source, so
// the destination becomes an exact mirror instead of a superset.
func WithPrune(prune bool) Option {
	return func(e *Engine) { e.prune = prune }
}

// WithOffline turns both directions into no-ops. Offline work keeps reading
// and writing the local store; the next online Pull or Push reconciles.
func WithOffline(offline bool) Option {
	return func(e *Engine) { e.offline = offline }
}

// WithPushLocks makes Push hold the remote registry locks for the duration of
// the mirror, so readers pulling from the remote never observe a half-pushed
// tree. The manager must be bound to the remote store.
func WithPushLocks(m *lock.Manager) Option {
	return func(e *Engine) { e.pushLocks = m }
}

// Engine mirrors the registry key space between a local and a remote store.
type Engine struct {
	local     blob.Store
	remote    blob.Store
	workers   int
	logger    Logger
	prune     bool
	offline   bool
	pushLocks *lock.Manager
}

// New returns an engine mirroring between local and remote.
func New(local, remote blob.Store, opts ...Option) *Engine {
	e := &Engine{
		local:   local,
		remote:  remote,
		workers: defaultWorkers,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report summarizes one mirror pass.
type Report struct {
	Copied    int   `json:"copied"`
	Deleted   int   `json:"deleted"`
	Unchanged int   `json:"unchanged"`
	Bytes     int64 `json:"bytes"`
}

// Pull copies remote registry state into the local store.
func (e *Engine) Pull(ctx context.Context) (Report, error) {
	if e.offline {
		e.logger.Debug("sync skipped", "direction", "pull", "reason", "offline")
		return Report{}, nil
	}
	return e.mirror(ctx, e.remote, e.local, "pull")
}

// Push publishes local registry state to the remote store, holding the remote
// registry locks when the engine carries a lock manager.
func (e *Engine) Push(ctx context.Context) (Report, error) {
	if e.offline {
		e.logger.Debug("sync skipped", "direction", "push", "reason", "offline")
		return Report{}, nil
	}
	if e.pushLocks == nil {
		return e.mirror(ctx, e.local, e.remote, "push")
	}
	var report Report
	err := e.withRemoteLocks(ctx, func(ctx context.Context) error {
		r, err := e.mirror(ctx, e.local, e.remote, "push")
		report = r
		return err
	})
	return report, err
}

// withRemoteLocks takes every kind lock on the remote store in the same fixed
// order registry writers use, runs fn, and releases in reverse.
func (e *Engine) withRemoteLocks(ctx context.Context, fn func(context.Context) error) error {
	var held []*lock.Lease
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("failed to release remote lock", "key", held[i].Key(), "error", err)
			}
		}
	}
	for _, kind := range domain.EntityKinds() {
		lease, err := e.pushLocks.Acquire(ctx, kind.DirName()+lock.Suffix)
		if err != nil {
			release()
			return err
		}
		held = append(held, lease)
	}
	defer release()
	return fn(ctx)
}

func (e *Engine) mirror(ctx context.Context, src, dst blob.Store, direction string) (Report, error) {
	srcInfos, err := src.List(ctx, "")
	if err != nil {
		return Report{}, fmt.Errorf("list source: %w", err)
	}
	dstInfos, err := dst.List(ctx, "")
	if err != nil {
		return Report{}, fmt.Errorf("list destination: %w", err)
	}
	srcByKey := make(map[string]blob.Info, len(srcInfos))
	for _, info := range srcInfos {
		srcByKey[info.Key] = info
	}
	dstByKey := make(map[string]blob.Info, len(dstInfos))
	for _, info := range dstInfos {
		dstByKey[info.Key] = info
	}

	var report Report
	var copies []blob.Info
	for _, info := range srcInfos {
		if skipKey(info.Key) {
			continue
		}
		if existing, ok := dstByKey[info.Key]; ok && unchanged(info, existing) {
			report.Unchanged++
			continue
		}
		copies = append(copies, info)
	}
	var deletes []string
	if e.prune {
		for _, info := range dstInfos {
			if skipKey(info.Key) {
				continue
			}
			if _, ok := srcByKey[info.Key]; !ok {
				deletes = append(deletes, info.Key)
			}
		}
	}

	var copied, deleted, bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, info := range copies {
		g.Go(func() error {
			if err := copyKey(gctx, src, dst, info.Key); err != nil {
				return fmt.Errorf("copy %s: %w", info.Key, err)
			}
			copied.Add(1)
			bytes.Add(info.Size)
			e.logger.Debug("copied key", "direction", direction, "key", info.Key, "size", info.Size)
			return nil
		})
	}
	for _, key := range deletes {
		g.Go(func() error {
			if _, err := dst.Delete(gctx, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			deleted.Add(1)
			e.logger.Debug("deleted key", "direction", direction, "key", key)
			return nil
		})
	}
	err = g.Wait()
	report.Copied = int(copied.Load())
	report.Deleted = int(deleted.Load())
	report.Bytes = bytes.Load()
	if err != nil {
		e.logger.Error("sync failed", "direction", direction,
			"copied", report.Copied, "deleted", report.Deleted, "error", err)
		return report, err
	}
	e.logger.Info("sync completed", "direction", direction,
		"copied", report.Copied, "deleted", report.Deleted,
		"unchanged", report.Unchanged, "bytes", report.Bytes)
	return report, nil
}

// copyKey streams one key from src to dst. Put is create-only on every
// driver, so an existing destination key is deleted first.
func copyKey(ctx context.Context, src, dst blob.Store, key string) error {
	info, rc, err := src.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	if _, err := dst.Delete(ctx, key); err != nil {
		return err
	}
	_, err = dst.Put(ctx, key, rc, blob.PutOptions{ContentType: info.ContentType, Metadata: info.Metadata})
	return err
}

func skipKey(key string) bool {
	return strings.HasPrefix(key, lock.Dir+"/")
}

// unchanged reports whether a destination key already matches its source.
// Sizes must agree; etags are compared only when both sides carry one, since
// drivers hash differently and a missing or foreign etag proves nothing.
func unchanged(src, dst blob.Info) bool {
	if src.Size != dst.Size {
		return false
	}
	if src.ETag == "" || dst.ETag == "" {
		return true
	}
	return src.ETag == dst.ETag
}
