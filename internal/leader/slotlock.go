// Package leader enforces spec §5's "concurrent incremental sync against
// the same slot is forbidden" rule: before starting an incremental run,
// the coordinator must hold an exclusive, TTL-refreshed lock on the
// (backend, slot) pair for the run's lifetime. Mechanics are adapted from
// the teacher's Redis-backed leader elector (SET NX EX acquire, Lua
// check-and-extend refresh, Lua check-and-delete release) — generalized
// from continuous multi-instance leader flapping to a single-holder lock
// scoped to one sync run.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures a SlotLock.
type Config struct {
	// InstanceID uniquely identifies this process (defaults to hostname:pid).
	InstanceID string

	// SlotName identifies the sync slot being protected, e.g.
	// "mongo:orders-db/incremental".
	SlotName string

	TTL             time.Duration
	RefreshInterval time.Duration
}

func DefaultConfig(slotName string) *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "instance"
	}
	return &Config{
		InstanceID:      fmt.Sprintf("%s:%d", host, os.Getpid()),
		SlotName:        slotName,
		TTL:             30 * time.Second,
		RefreshInterval: 10 * time.Second,
	}
}

func (c *Config) key() string { return "surreal-sync:slot-lock:" + c.SlotName }

// SlotLock holds an exclusive Redis-backed lock on a sync slot for the
// process's lifetime, refreshing it in the background until Stop is called.
type SlotLock struct {
	client    *redis.Client
	cfg       *Config
	held      atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(client *redis.Client, cfg *Config) *SlotLock {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SlotLock{client: client, cfg: cfg, ctx: ctx, cancel: cancel}
}

// Acquire attempts a one-shot lock acquisition. It returns false (no
// error) if another instance already holds the slot — the caller should
// treat this as "reject the run", per spec §5, not retry silently.
func (l *SlotLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.cfg.key(), l.cfg.InstanceID, l.cfg.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire slot lock %s: %w", l.cfg.SlotName, err)
	}
	if ok {
		l.held.Store(true)
		return true, nil
	}

	owner, err := l.client.Get(ctx, l.cfg.key()).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("inspect slot lock owner %s: %w", l.cfg.SlotName, err)
	}
	if owner == l.cfg.InstanceID {
		l.held.Store(true)
		return true, nil
	}
	slog.Warn("sync slot already locked by another instance", "slot", l.cfg.SlotName, "owner", owner)
	return false, nil
}

// Start begins the background refresh loop. Call only after Acquire
// returns true.
func (l *SlotLock) Start() {
	l.wg.Add(1)
	go l.refreshLoop()
}

func (l *SlotLock) refreshLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if !l.refresh(l.ctx) {
				l.held.Store(false)
				slog.Error("lost sync slot lock mid-run", "slot", l.cfg.SlotName)
				return
			}
		}
	}
}

func (l *SlotLock) refresh(ctx context.Context) bool {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	ttlSeconds := int(l.cfg.TTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	result, err := script.Run(ctx, l.client, []string{l.cfg.key()}, l.cfg.InstanceID, ttlSeconds).Int()
	if err != nil {
		slog.Error("refresh slot lock failed", "slot", l.cfg.SlotName, "error", err)
		return false
	}
	return result != 0
}

// Held reports whether this process currently believes it holds the lock.
func (l *SlotLock) Held() bool { return l.held.Load() }

// Stop releases the lock (if held) and stops the refresh loop.
func (l *SlotLock) Stop(ctx context.Context) {
	l.cancel()
	l.wg.Wait()

	if !l.held.Load() {
		return
	}
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	if _, err := script.Run(ctx, l.client, []string{l.cfg.key()}, l.cfg.InstanceID).Int(); err != nil {
		slog.Error("release slot lock failed", "slot", l.cfg.SlotName, "error", err)
	}
	l.held.Store(false)
}
