package templates_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/caffeineduck/hostcall/bridge"
	"github.com/caffeineduck/hostcall/executor"
	"github.com/caffeineduck/hostcall/templates"
)

func newExecutor(t *testing.T) *executor.Executor {
	t.Helper()

	exec, err := executor.New(executor.WithoutConsole())
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	return exec
}

func hostObject(t *testing.T, exec *executor.Executor, src string) *executor.Ref {
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

func load(t *testing.T, exec *executor.Executor, src string, opts ...templates.Option) *templates.Provider {
	t.Helper()

	p, err := templates.Load(context.Background(), exec, hostObject(t, exec, src), opts...)
	require.NoError(t, err)
	return p
}

func flush(t *testing.T, exec *executor.Executor) {
	t.Helper()
	require.NoError(t, exec.Do(context.Background(), func(*executor.Scope) error { return nil }))
}

const basic = `({
	shouldReuseParams: true,
	sqlTemplates: () => ({ select: { basic: "SELECT {{x}}" } }),
})`

func TestLoadFlattensTemplates(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, basic)
	defer p.Close()

	tmpl := p.Templates()
	text, ok := tmpl.Get("select/basic")
	require.True(t, ok)
	assert.Equal(t, "SELECT {{x}}", text)
	assert.True(t, tmpl.ReuseParams())
	assert.Equal(t, 1, tmpl.Len())
}

func TestLoadMultipleCategories(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, `({
		shouldReuseParams: false,
		sqlTemplates() {
			return {
				functions: { SUM: "SUM({{ args_concat }})", COUNT: "COUNT({{ args_concat }})" },
				statements: { select: "SELECT {{ select_concat }}" },
				quotes: {},
			};
		},
	})`)
	defer p.Close()

	tmpl := p.Templates()
	assert.False(t, tmpl.ReuseParams())
	assert.Equal(t, []string{"functions/COUNT", "functions/SUM", "statements/select"}, tmpl.Names())
	assert.Equal(t, []string{"functions", "statements"}, tmpl.Categories())

	text, ok := tmpl.Lookup("functions", "SUM")
	require.True(t, ok)
	assert.Equal(t, "SUM({{ args_concat }})", text)
}

func TestLoadSqlTemplatesSeesReceiver(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, `({
		shouldReuseParams: false,
		quote: '"',
		sqlTemplates() { return { quotes: { identifier: this.quote } }; },
	})`)
	defer p.Close()

	text, ok := p.Templates().Get("quotes/identifier")
	require.True(t, ok)
	assert.Equal(t, `"`, text)
}

func TestLoadRejectsMalformedObjects(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "missing reuse flag",
			src:     `({ sqlTemplates: () => ({}) })`,
			wantErr: "shouldReuseParams",
		},
		{
			name:    "reuse flag not boolean",
			src:     `({ shouldReuseParams: "yes", sqlTemplates: () => ({}) })`,
			wantErr: "shouldReuseParams: expected boolean, got string",
		},
		{
			name:    "missing accessor",
			src:     `({ shouldReuseParams: true })`,
			wantErr: "sqlTemplates: expected function, got undefined",
		},
		{
			name:    "accessor throws",
			src:     `({ shouldReuseParams: true, sqlTemplates() { throw new Error("nope") } })`,
			wantErr: "Can't call sqlTemplates function",
		},
		{
			name:    "accessor returns string",
			src:     `({ shouldReuseParams: true, sqlTemplates: () => "x" })`,
			wantErr: "Can't cast sqlTemplates to object, got string",
		},
		{
			name:    "category not object",
			src:     `({ shouldReuseParams: true, sqlTemplates: () => ({ select: 1 }) })`,
			wantErr: `category "select": expected object, got number`,
		},
		{
			name:    "template not string",
			src:     `({ shouldReuseParams: true, sqlTemplates: () => ({ select: { basic: null } }) })`,
			wantErr: `template "select/basic": expected string, got null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newExecutor(t)
			obj := hostObject(t, exec, tt.src)

			_, err := templates.Load(context.Background(), exec, obj)
			require.Error(t, err)
			assert.True(t, bridge.IsInternal(err))
			assert.Contains(t, err.Error(), tt.wantErr)

			// the caller still owns obj
			assert.EqualValues(t, 1, obj.Count())
			obj.Drop()
			flush(t, exec)
			assert.EqualValues(t, 0, exec.LiveRoots())
		})
	}
}

func TestCloseSoleOwnerSchedulesOneRelease(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, basic)
	assert.EqualValues(t, 1, exec.LiveRoots())

	before := exec.Stats()
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	flush(t, exec)
	after := exec.Stats()

	// one release job plus the flush
	assert.EqualValues(t, 2, after.Submitted-before.Submitted)
	assert.EqualValues(t, 0, exec.LiveRoots())
}

func TestCloseWithFullQueueStillReleases(t *testing.T) {
	exec, err := executor.New(executor.WithoutConsole(), executor.WithCapacity(1))
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	p := load(t, exec, basic)

	started := make(chan struct{})
	gate := make(chan struct{})
	require.NoError(t, exec.TrySubmit(func(*executor.Scope) error {
		close(started)
		<-gate
		return nil
	}))
	<-started
	require.NoError(t, exec.TrySubmit(func(*executor.Scope) error { return nil }))
	require.ErrorIs(t, exec.TrySubmit(func(*executor.Scope) error { return nil }), executor.ErrQueueFull)

	require.NoError(t, p.Close())
	close(gate)
	flush(t, exec)

	assert.EqualValues(t, 0, exec.LiveRoots())
}

func TestCloseSharedOwnerLogsLeak(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	exec := newExecutor(t)

	obj := hostObject(t, exec, basic)
	other := obj.Clone()
	p, err := templates.Load(context.Background(), exec, obj, templates.WithLogger(zap.New(core)))
	require.NoError(t, err)

	before := exec.Stats()
	require.NoError(t, p.Close())
	flush(t, exec)
	after := exec.Stats()

	assert.EqualValues(t, 1, after.Submitted-before.Submitted)
	assert.Equal(t, 1, logs.FilterMessageSnippet("potential memory leak").Len())
	assert.EqualValues(t, 1, exec.LiveRoots())
	assert.EqualValues(t, 1, other.Count())

	other.Drop()
	flush(t, exec)
	assert.EqualValues(t, 0, exec.LiveRoots())
}

func TestTemplatesSurviveClose(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, basic)
	require.NoError(t, p.Close())

	text, ok := p.Templates().Get("select/basic")
	require.True(t, ok)
	assert.Equal(t, "SELECT {{x}}", text)
}

func TestCallTemplate(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, `({
		shouldReuseParams: false,
		sqlTemplates: () => ({ select: { basic: "SELECT {{x}}" } }),
		callTemplate(name, params) {
			const text = this.sqlTemplates()[name.split("/")[0]][name.split("/")[1]];
			return text.replace("{{x}}", params.x);
		},
	})`)

	got, err := p.CallTemplate(context.Background(), "select/basic", map[string]string{"x": "id"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id", got)

	// the provider still holds the only reference
	assert.EqualValues(t, 1, exec.LiveRoots())

	require.NoError(t, p.Close())
	_, err = p.CallTemplate(context.Background(), "select/basic", nil)
	assert.ErrorIs(t, err, templates.ErrClosed)
}

func TestCallTemplateUnsupported(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, basic)
	defer p.Close()

	_, err := p.CallTemplate(context.Background(), "select/basic", nil)
	assert.ErrorIs(t, err, templates.ErrTemplateCallUnsupported)
}

func TestCallTemplateThrows(t *testing.T) {
	exec := newExecutor(t)
	p := load(t, exec, `({
		shouldReuseParams: false,
		sqlTemplates: () => ({}),
		callTemplate() { throw new Error("no such template"); },
	})`)
	defer p.Close()

	_, err := p.CallTemplate(context.Background(), "x/y", nil)
	require.Error(t, err)
	assert.True(t, bridge.IsInternal(err))
}
