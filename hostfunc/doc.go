// Package hostfunc provides Go functions that host scripts can call.
//
// Host scripts have no implicit access to Go. Each capability must be
// registered on a [Registry] and installed into an executor:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("my_func", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "result", nil
//	})
//	exec, err := executor.New(executor.WithInit(registry.Install(ctx)))
//
// Scripts then call host.call("my_func", {...}). Functions run
// synchronously on the host loop, so they should be quick.
//
// # Built-in Capabilities
//
// Clock: time_now via [Clock].
//
// Key-Value Store: kv_get, kv_set, kv_delete and kv_keys via [KV] and
// [KVConfig], backed by a [MemoryStore] or a [SQLiteStore].
//
//	store, _ := hostfunc.OpenSQLiteStore("file:kv.db")
//	kv := hostfunc.NewKV(hostfunc.KVConfig{Store: store, MaxEntries: 1000})
//	hostfunc.Builtins(registry, kv)
//
// Size limits in [KVConfig] keep a script from exhausting memory or disk.
package hostfunc
