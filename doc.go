// Package hostcall lets any goroutine call into a single-threaded
// JavaScript runtime and wait for the answer.
//
// # Overview
//
// The runtime lives on one goroutine owned by an [executor.Executor].
// Other goroutines submit jobs to its queue; the [bridge] package turns
// that into typed calls that block until the script completes a
// completion token or returns a value.
//
// # Basic Usage
//
//	exec, _ := executor.New()
//	defer exec.Close()
//
//	exec.Run(ctx, `function greet(name, token) { token.resolve(JSON.stringify("hi " + name)) }`)
//
//	var fn *executor.Ref
//	exec.Do(ctx, func(s *executor.Scope) error {
//	    fn = s.NewRef(s.Runtime().Get("greet").ToObject(s.Runtime()))
//	    return nil
//	})
//
//	name := "ada"
//	msg, err := bridge.Call[string](ctx, exec, fn, &name) // "hi ada"
//
// # Templates
//
//	provider, _ := templates.Load(ctx, exec, generator)
//	defer provider.Close()
//	sql, _ := provider.Templates().Get("select/basic")
//
// # Host Functions
//
//	registry := hostfunc.NewRegistry()
//	hostfunc.Builtins(registry, hostfunc.NewKV(hostfunc.DefaultKVConfig()))
//	exec, _ := executor.New(executor.WithInit(registry.Install(ctx)))
//
// See the [executor], [bridge], [templates], and [hostfunc] packages for
// detailed API documentation.
package hostcall
