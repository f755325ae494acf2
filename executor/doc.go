// Package executor runs a JavaScript host runtime on a single dedicated
// goroutine and lets any other goroutine schedule work on it.
//
// # Overview
//
// The runtime is not safe for concurrent use. An [Executor] owns it and
// drains a FIFO queue of [Job] values on one goroutine locked to an OS
// thread. Every access to host state goes through that queue.
//
//	exec, err := executor.New(executor.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	result := exec.Run(ctx, `function greet(name) { return "hi " + name }`)
//
// # Submission
//
// [Executor.Submit] waits for queue capacity; [Executor.TrySubmit] never
// blocks and fails with [ErrQueueFull] instead. Both fail with [ErrClosed]
// after [Executor.Close]. A running job schedules follow-up work with
// [Scope.Enqueue], which is never refused for capacity.
//
// # References
//
// Host objects that must outlive a job are rooted with [Scope.NewRef]. A
// [Ref] is reference counted and can be handed to other goroutines, but the
// object it points to can only be reached from a [Scope]. Each Ref is
// consumed exactly once: [Ref.Take] and [Ref.TryUnwrap] on the loop, or
// [Ref.Drop] from anywhere. The last owner releases the root on the loop.
package executor
