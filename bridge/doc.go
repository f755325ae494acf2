// Package bridge lets worker goroutines call host functions that live in an
// [executor.Executor] and wait for their asynchronous result.
//
// A call builds a job, submits it to the executor and blocks on a private
// single-value channel. Host code receives a [Token] as its last argument
// and completes it exactly once with token.resolve(value) or
// token.reject(message):
//
//	exec.Run(ctx, `function lookup(id, token) { token.resolve(JSON.stringify({id: id})) }`)
//
//	var fn *executor.Ref // rooted reference to lookup
//	id := "42"
//	res, err := bridge.Call[map[string]string](ctx, exec, fn, &id)
//
// Three variants exist. [Call] passes a string and parses a JSON string
// result. [CallRaw] takes caller supplied [Encoder] and [Decoder] functions.
// [CallMethod] calls a function with a receiver and decodes its synchronous
// return value.
//
// Every call consumes the [executor.Ref] it is given; keep your own with
// Ref.Clone before calling.
//
// # Errors
//
// Submission failures are returned immediately and wrap [ErrQueueFull] or
// [ErrChannelClosed]. Everything that goes wrong on the host side (a
// rejection, a decode failure, a token the host discarded) is an
// [*InternalError]. The bridge never retries and never times out on its
// own; cancel the context to stop waiting. Host work already scheduled is
// not interrupted.
package bridge
