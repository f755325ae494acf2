package hostfunc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	DefaultKVMaxKeySize   = 256
	DefaultKVMaxValueSize = 64 << 10 // 64KB
	DefaultKVMaxEntries   = 10000
)

type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
	// Store defaults to a MemoryStore.
	Store Store
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultKVMaxKeySize,
		MaxValueSize: DefaultKVMaxValueSize,
		MaxEntries:   DefaultKVMaxEntries,
	}
}

// KV exposes a Store to scripts. Values are stored as JSON, so anything a
// script can serialize round-trips.
type KV struct {
	cfg   KVConfig
	store Store
	// serializes the entry-count check with the write
	mu sync.Mutex
}

func NewKV(cfg KVConfig) *KV {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &KV{cfg: cfg, store: store}
}

// Register adds kv_get, kv_set, kv_delete and kv_keys to r.
func (kv *KV) Register(r *Registry) {
	r.Register("kv_get", kv.Get)
	r.Register("kv_set", kv.Set)
	r.Register("kv_delete", kv.Delete)
	r.Register("kv_keys", kv.Keys)
}

func (kv *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	req, err := parseKVGet(args)
	if err != nil {
		return nil, err
	}

	raw, ok, err := kv.store.Get(ctx, req.Key)
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	if !ok {
		return req.Default, nil
	}

	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, fmt.Errorf("kv get: corrupt value for %q: %w", req.Key, err)
	}
	return val, nil
}

func (kv *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	req, err := parseKVSet(args)
	if err != nil {
		return nil, err
	}
	if kv.cfg.MaxKeySize > 0 && len(req.Key) > kv.cfg.MaxKeySize {
		return nil, fmt.Errorf("key exceeds max size of %d bytes", kv.cfg.MaxKeySize)
	}

	raw, err := json.Marshal(req.Value)
	if err != nil {
		return nil, fmt.Errorf("value not serializable: %w", err)
	}
	if kv.cfg.MaxValueSize > 0 && len(raw) > kv.cfg.MaxValueSize {
		return nil, fmt.Errorf("value exceeds max size of %d bytes", kv.cfg.MaxValueSize)
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	if kv.cfg.MaxEntries > 0 {
		_, exists, err := kv.store.Get(ctx, req.Key)
		if err != nil {
			return nil, fmt.Errorf("kv set: %w", err)
		}
		if !exists {
			n, err := kv.store.Len(ctx)
			if err != nil {
				return nil, fmt.Errorf("kv set: %w", err)
			}
			if n >= kv.cfg.MaxEntries {
				return nil, fmt.Errorf("kv store full: max %d entries", kv.cfg.MaxEntries)
			}
		}
	}

	if err := kv.store.Set(ctx, req.Key, string(raw)); err != nil {
		return nil, fmt.Errorf("kv set: %w", err)
	}
	return "ok", nil
}

func (kv *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	req, err := parseKVDelete(args)
	if err != nil {
		return nil, err
	}
	if err := kv.store.Delete(ctx, req.Key); err != nil {
		return nil, fmt.Errorf("kv delete: %w", err)
	}
	return "ok", nil
}

func (kv *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	req := parseKVKeys(args)
	keys, err := kv.store.Keys(ctx, req.Prefix)
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// Close closes the underlying store.
func (kv *KV) Close() error {
	return kv.store.Close()
}
