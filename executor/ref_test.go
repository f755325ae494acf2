package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/caffeineduck/hostcall/executor"
)

func rootObject(t *testing.T, exec *executor.Executor, src string) *executor.Ref {
	t.Helper()

	var ref *executor.Ref
	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		v, err := s.Runtime().RunString(src)
		if err != nil {
			return err
		}
		ref = s.NewRef(v.ToObject(s.Runtime()))
		return nil
	}))
	return ref
}

func TestRefTakeSoleOwnerReleasesRoot(t *testing.T) {
	exec := newExecutor(t)

	ref := rootObject(t, exec, `({name: "solo"})`)
	assert.EqualValues(t, 1, exec.LiveRoots())
	assert.EqualValues(t, 1, ref.Count())

	var name string
	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		obj, err := ref.Take(s)
		if err != nil {
			return err
		}
		name = obj.Get("name").String()
		return nil
	}))

	assert.Equal(t, "solo", name)
	assert.EqualValues(t, 0, exec.LiveRoots())
}

func TestRefTakeSharedBorrows(t *testing.T) {
	exec := newExecutor(t)

	ref := rootObject(t, exec, `({})`)
	other := ref.Clone()
	assert.EqualValues(t, 2, ref.Count())

	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		_, err := ref.Take(s)
		return err
	}))

	assert.EqualValues(t, 1, other.Count())
	assert.EqualValues(t, 1, exec.LiveRoots())

	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		_, err := other.Take(s)
		return err
	}))
	assert.EqualValues(t, 0, exec.LiveRoots())
}

func TestRefConsumedOnce(t *testing.T) {
	exec := newExecutor(t)

	ref := rootObject(t, exec, `({})`)
	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		if _, err := ref.Take(s); err != nil {
			return err
		}

		_, err := ref.Take(s)
		assert.ErrorIs(t, err, executor.ErrRefConsumed)

		_, err = ref.TryUnwrap(s)
		assert.ErrorIs(t, err, executor.ErrRefConsumed)

		_, err = ref.Value(s)
		assert.ErrorIs(t, err, executor.ErrRefConsumed)
		return nil
	}))

	assert.NotPanics(t, ref.Drop)
	assert.Panics(t, func() { ref.Clone() })
}

func TestRefTryUnwrapShared(t *testing.T) {
	exec := newExecutor(t)

	ref := rootObject(t, exec, `({})`)
	other := ref.Clone()

	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		obj, err := ref.TryUnwrap(s)
		assert.ErrorIs(t, err, executor.ErrRefShared)
		assert.Nil(t, obj)
		return nil
	}))
	assert.EqualValues(t, 1, exec.LiveRoots())

	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		obj, err := other.TryUnwrap(s)
		assert.NoError(t, err)
		assert.NotNil(t, obj)
		return nil
	}))
	assert.EqualValues(t, 0, exec.LiveRoots())
}

func TestRefDropLastOwnerReleasesOnLoop(t *testing.T) {
	exec := newExecutor(t)

	ref := rootObject(t, exec, `({})`)
	other := ref.Clone()

	ref.Drop()
	assert.EqualValues(t, 1, exec.LiveRoots())

	other.Drop()
	assert.Eventually(t, func() bool {
		return exec.LiveRoots() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRefDropAfterCloseLogsLeak(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	exec, err := executor.New(executor.WithoutConsole(), executor.WithLogger(zap.New(core)))
	require.NoError(t, err)

	ref := rootObject(t, exec, `({})`)
	require.NoError(t, exec.Close())

	ref.Drop()
	entries := logs.FilterMessageSnippet("potential memory leak").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, exec.LiveRoots())
}

func TestRefForeignScope(t *testing.T) {
	a := newExecutor(t)
	b := newExecutor(t)

	ref := rootObject(t, a, `({})`)
	require.NoError(t, b.Do(context.Background(), func(s *executor.Scope) error {
		_, err := ref.Take(s)
		assert.ErrorIs(t, err, executor.ErrForeignScope)
		return nil
	}))

	assert.EqualValues(t, 1, ref.Count())
	ref.Drop()
}

func TestRefValueBorrows(t *testing.T) {
	exec := newExecutor(t)

	ref := rootObject(t, exec, `({n: 1})`)
	for i := 0; i < 3; i++ {
		require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
			obj, err := ref.Value(s)
			if err != nil {
				return err
			}
			return obj.Set("n", obj.Get("n").ToInteger()+1)
		}))
	}

	var n int64
	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error {
		obj, err := ref.Take(s)
		if err != nil {
			return err
		}
		n = obj.Get("n").ToInteger()
		return nil
	}))
	assert.EqualValues(t, 4, n)
	assert.EqualValues(t, 0, exec.LiveRoots())
}

func TestWithNameLabelsLogs(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	exec := newExecutor(t, executor.WithName("worker"), executor.WithLogger(zap.New(core)))

	require.NoError(t, exec.Submit(context.Background(), func(s *executor.Scope) error {
		return assert.AnError
	}))
	require.NoError(t, exec.Do(context.Background(), func(s *executor.Scope) error { return nil }))

	entries := logs.FilterMessage("job failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "worker", entries[0].ContextMap()["executor"])
}

func TestRefDropWithFullQueueStillReleases(t *testing.T) {
	exec := newExecutor(t, executor.WithCapacity(1))
	ref := rootObject(t, exec, `({})`)

	release := block(t, exec)
	require.NoError(t, exec.TrySubmit(func(*executor.Scope) error { return nil }))
	require.ErrorIs(t, exec.TrySubmit(func(*executor.Scope) error { return nil }), executor.ErrQueueFull)

	ref.Drop()
	release()
	require.NoError(t, exec.Do(context.Background(), func(*executor.Scope) error { return nil }))

	assert.EqualValues(t, 0, exec.LiveRoots())
}
