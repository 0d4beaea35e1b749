// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hornet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/antflydb/hornet/pkg/hornet/lib/backends"
	"github.com/antflydb/hornet/pkg/hornet/lib/inference"
	"github.com/antflydb/hornet/pkg/hornet/lib/loader"
	"github.com/antflydb/hornet/pkg/hornet/lib/modelregistry"
	"github.com/antflydb/hornet/pkg/hornet/lib/tokenizer"
)

// DefaultCacheCapacity is how many models stay resident at once.
const DefaultCacheCapacity = 3

// ErrModelNotResident is returned when unloading a model that is not in
// the cache.
var ErrModelNotResident = errors.New("model not resident")

// ResidentModel is a model held in the cache, ready to serve requests.
type ResidentModel struct {
	Key    inference.ModelKey
	Handle backends.Handle
	// Codec is nil for self-tokenizing handles.
	Codec    *tokenizer.Codec
	Device   backends.Device
	Strategy string
}

// ModelInfo is a point-in-time snapshot of one resident model.
type ModelInfo struct {
	Model       string    `json:"model"`
	Capability  string    `json:"capability"`
	Device      string    `json:"device"`
	Strategy    string    `json:"strategy"`
	LoadedAt    time.Time `json:"loaded_at"`
	LastUsed    time.Time `json:"last_used"`
	MemoryBytes uint64    `json:"memory_bytes,omitempty"`
}

// CacheStats summarizes cache behavior for the stats endpoint.
type CacheStats struct {
	Resident  int    `json:"resident"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type residentEntry struct {
	resident    *ResidentModel
	loadedAt    time.Time
	lastUsed    time.Time
	memoryBytes uint64
}

// loadCall deduplicates concurrent loads of the same key.
type loadCall struct {
	done chan struct{}
	res  *ResidentModel
	err  error
}

// ModelCache keeps up to capacity models resident, keyed by
// (model, capability). When full, the least recently used entry is
// unloaded to make room; ties on last-used time fall to the
// lexicographically smallest key so eviction is deterministic.
type ModelCache struct {
	capacity int
	loader   *loader.Loader
	runtime  backends.Runtime
	store    *modelregistry.Store
	device   backends.Device
	logger   *zap.Logger
	clock    func() time.Time

	mu      sync.Mutex
	entries map[inference.ModelKey]*residentEntry
	loading map[inference.ModelKey]*loadCall

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// CacheOption configures the model cache.
type CacheOption func(*ModelCache)

// WithCapacity overrides the resident model limit.
func WithCapacity(n int) CacheOption {
	return func(c *ModelCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock overrides the cache's time source.
func WithClock(clock func() time.Time) CacheOption {
	return func(c *ModelCache) { c.clock = clock }
}

// NewModelCache creates a cache that loads through ld, resolves
// artifacts through store, and places models on device.
func NewModelCache(ld *loader.Loader, runtime backends.Runtime, store *modelregistry.Store, device backends.Device, logger *zap.Logger, opts ...CacheOption) *ModelCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ModelCache{
		capacity: DefaultCacheCapacity,
		loader:   ld,
		runtime:  runtime,
		store:    store,
		device:   device,
		logger:   logger.Named("model_cache"),
		clock:    time.Now,
		entries:  make(map[inference.ModelKey]*residentEntry),
		loading:  make(map[inference.ModelKey]*loadCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire returns the resident model for (model, capability), loading
// it first if necessary. Concurrent acquires of the same key share one
// load. An invalid capability fails before anything touches the cache.
func (c *ModelCache) Acquire(ctx context.Context, model, capability string) (*ResidentModel, error) {
	parsed, err := inference.ParseCapability(capability)
	if err != nil {
		return nil, err
	}
	key := inference.ModelKey{Model: model, Capability: parsed}

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastUsed = c.clock()
		c.mu.Unlock()
		c.hits.Add(1)
		RecordCacheHit("model")
		return entry.resident, nil
	}

	if call, ok := c.loading[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if call.err != nil {
			return nil, call.err
		}
		c.touch(key)
		return call.res, nil
	}

	call := &loadCall{done: make(chan struct{})}
	c.loading[key] = call
	c.mu.Unlock()

	c.misses.Add(1)
	RecordCacheMiss("model")

	res, err := c.load(ctx, key)

	c.mu.Lock()
	delete(c.loading, key)
	c.mu.Unlock()

	call.res, call.err = res, err
	close(call.done)
	return res, err
}

// load runs off-lock: artifact resolution and model loading are slow,
// and other keys must stay servable meanwhile.
func (c *ModelCache) load(ctx context.Context, key inference.ModelKey) (*ResidentModel, error) {
	modelDir, err := c.store.Ensure(ctx, key.Model)
	if err != nil {
		return nil, &inference.ModelLoadError{Model: key.Model, Capability: key.Capability, Err: err}
	}

	rssBefore := currentRSS()
	start := c.clock()

	result, err := c.loader.Load(ctx, key.Model, modelDir, key.Capability, c.device)
	if err != nil {
		return nil, err
	}

	loadDuration := c.clock().Sub(start)
	RecordModelLoadDuration(key.Model, string(key.Capability), loadDuration.Seconds())

	resident := &ResidentModel{
		Key:      key,
		Handle:   result.Handle,
		Codec:    result.Codec,
		Device:   c.device,
		Strategy: result.Strategy,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another loader may have filled the cache while this load ran.
	if err := c.makeRoomLocked(); err != nil {
		_ = result.Handle.Close()
		return nil, fmt.Errorf("evicting to make room for %s: %w", key, err)
	}

	now := c.clock()
	c.entries[key] = &residentEntry{
		resident:    resident,
		loadedAt:    now,
		lastUsed:    now,
		memoryBytes: rssDelta(rssBefore),
	}
	SetResidentModels(len(c.entries))

	c.logger.Info("Model resident",
		zap.String("model", key.Model),
		zap.String("capability", string(key.Capability)),
		zap.String("strategy", resident.Strategy),
		zap.String("device", c.device.String()),
		zap.Duration("load_duration", loadDuration))

	return resident, nil
}

// makeRoomLocked evicts least-recently-used entries until an insert
// fits. A failed unload leaves the victim in place and aborts the
// insert.
func (c *ModelCache) makeRoomLocked() error {
	for len(c.entries) >= c.capacity {
		victim := c.victimLocked()
		entry := c.entries[victim]

		c.logger.Info("Evicting model",
			zap.String("model", victim.Model),
			zap.String("capability", string(victim.Capability)),
			zap.Time("last_used", entry.lastUsed))

		if err := entry.resident.Handle.Close(); err != nil {
			return fmt.Errorf("unloading %s: %w", victim, err)
		}
		delete(c.entries, victim)
		c.evictions.Add(1)
		RecordModelEviction()
		c.runtime.ReleaseDeviceMemory(entry.resident.Device)
	}
	return nil
}

// victimLocked picks the entry with the oldest last-used time; ties
// break to the lexicographically smallest key.
func (c *ModelCache) victimLocked() inference.ModelKey {
	var victim inference.ModelKey
	var victimEntry *residentEntry
	for key, entry := range c.entries {
		if victimEntry == nil {
			victim, victimEntry = key, entry
			continue
		}
		if entry.lastUsed.Before(victimEntry.lastUsed) ||
			(entry.lastUsed.Equal(victimEntry.lastUsed) && key.String() < victim.String()) {
			victim, victimEntry = key, entry
		}
	}
	return victim
}

func (c *ModelCache) touch(key inference.ModelKey) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastUsed = c.clock()
	}
	c.mu.Unlock()
}

// Unload removes one model from the cache and releases its resources.
func (c *ModelCache) Unload(model, capability string) error {
	parsed, err := inference.ParseCapability(capability)
	if err != nil {
		return err
	}
	key := inference.ModelKey{Model: model, Capability: parsed}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrModelNotResident)
	}
	delete(c.entries, key)
	SetResidentModels(len(c.entries))
	c.mu.Unlock()

	c.logger.Info("Unloading model",
		zap.String("model", key.Model),
		zap.String("capability", string(key.Capability)))

	err = entry.resident.Handle.Close()
	c.runtime.ReleaseDeviceMemory(entry.resident.Device)
	if err != nil {
		return fmt.Errorf("unloading %s: %w", key, err)
	}
	return nil
}

// UnloadModel removes every capability under which model is resident.
// Returns ErrModelNotResident when none is.
func (c *ModelCache) UnloadModel(model string) error {
	c.mu.Lock()
	var keys []inference.ModelKey
	for key := range c.entries {
		if key.Model == model {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	if len(keys) == 0 {
		return fmt.Errorf("%s: %w", model, ErrModelNotResident)
	}

	var errs []error
	for _, key := range keys {
		if err := c.Unload(key.Model, string(key.Capability)); err != nil && !errors.Is(err, ErrModelNotResident) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsResident reports whether model is resident under any capability.
func (c *ModelCache) IsResident(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.Model == model {
			return true
		}
	}
	return false
}

// Teardown unloads everything. The cache is empty afterwards even if
// some handles failed to close; those failures are joined into the
// returned error.
func (c *ModelCache) Teardown() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[inference.ModelKey]*residentEntry)
	c.mu.Unlock()

	var errs []error
	for key, entry := range entries {
		if err := entry.resident.Handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unloading %s: %w", key, err))
		}
	}
	c.runtime.ReleaseDeviceMemory(c.device)
	SetResidentModels(0)

	c.logger.Info("Model cache torn down", zap.Int("unloaded", len(entries)))
	return errors.Join(errs...)
}

// ListResident returns a snapshot of the resident models sorted by
// model id and capability.
func (c *ModelCache) ListResident() []ModelInfo {
	c.mu.Lock()
	infos := make([]ModelInfo, 0, len(c.entries))
	for key, entry := range c.entries {
		infos = append(infos, ModelInfo{
			Model:       key.Model,
			Capability:  string(key.Capability),
			Device:      entry.resident.Device.String(),
			Strategy:    entry.resident.Strategy,
			LoadedAt:    entry.loadedAt,
			LastUsed:    entry.lastUsed,
			MemoryBytes: entry.memoryBytes,
		})
	}
	c.mu.Unlock()

	slices.SortFunc(infos, func(a, b ModelInfo) int {
		if cmp := strings.Compare(a.Model, b.Model); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.Capability, b.Capability)
	})
	return infos
}

// Stats returns cache counters.
func (c *ModelCache) Stats() CacheStats {
	c.mu.Lock()
	resident := len(c.entries)
	c.mu.Unlock()
	return CacheStats{
		Resident:  resident,
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// currentRSS reads this process's resident set size, 0 when
// unavailable (non-Linux).
func currentRSS() uint64 {
	proc, err := procfs.Self()
	if err != nil {
		return 0
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0
	}
	return uint64(stat.ResidentMemory())
}

// rssDelta estimates the memory a load added, clamped at zero since
// GC activity can shrink RSS mid-load.
func rssDelta(before uint64) uint64 {
	after := currentRSS()
	if before == 0 || after <= before {
		return 0
	}
	return after - before
}
