package templates

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostcall/bridge"
	"github.com/caffeineduck/hostcall/executor"
)

var (
	// ErrTemplateCallUnsupported is returned by CallTemplate when the host
	// object has no callTemplate method.
	ErrTemplateCallUnsupported = errors.New("host object does not implement callTemplate")
	// ErrClosed is returned by CallTemplate after Close.
	ErrClosed = errors.New("template provider closed")
)

const (
	reuseParamsField = "shouldReuseParams"
	templatesMethod  = "sqlTemplates"
	callMethod       = "callTemplate"
)

// Provider reads templates from a host object once and keeps a reference
// to that object until Close.
type Provider struct {
	exec      *executor.Executor
	logger    *zap.Logger
	templates *Templates
	callable  bool

	mu     sync.RWMutex
	obj    *executor.Ref
	closed bool
}

// New builds a Provider from the host object behind obj. It must run on the
// host loop. On success the Provider owns obj; on error the caller keeps it.
//
// The object must carry a boolean shouldReuseParams and a nullary
// sqlTemplates method returning {category: {name: text}}.
func New(s *executor.Scope, obj *executor.Ref, opts ...Option) (*Provider, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	o, err := obj.Value(s)
	if err != nil {
		return nil, err
	}

	tmpl, err := read(o)
	if err != nil {
		return nil, err
	}
	_, callable := goja.AssertFunction(o.Get(callMethod))

	p := &Provider{
		exec:      s.Executor(),
		logger:    cfg.logger,
		templates: tmpl,
		callable:  callable,
		obj:       obj,
	}
	p.logger.Debug("templates loaded",
		zap.Int("count", tmpl.Len()),
		zap.Bool("reuse_params", tmpl.ReuseParams()),
		zap.Bool("call_template", callable))
	return p, nil
}

// Load runs New on the host loop of exec.
func Load(ctx context.Context, exec *executor.Executor, obj *executor.Ref, opts ...Option) (*Provider, error) {
	var p *Provider
	err := exec.Do(ctx, func(s *executor.Scope) error {
		var err error
		p, err = New(s, obj, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func read(o *goja.Object) (*Templates, error) {
	reuse, ok := exportBool(o.Get(reuseParamsField))
	if !ok {
		return nil, bridge.Internalf("Can't get %s: expected boolean, got %s", reuseParamsField, kind(o.Get(reuseParamsField)))
	}

	fn, ok := goja.AssertFunction(o.Get(templatesMethod))
	if !ok {
		return nil, bridge.Internalf("Can't get %s: expected function, got %s", templatesMethod, kind(o.Get(templatesMethod)))
	}
	result, err := fn(o)
	if err != nil {
		return nil, bridge.Internalf("Can't call %s function: %v", templatesMethod, err)
	}
	root, ok := asObject(result)
	if !ok {
		return nil, bridge.Internalf("Can't cast %s to object, got %s", templatesMethod, kind(result))
	}

	entries := make(map[string]string)
	for _, category := range root.Keys() {
		group, ok := asObject(root.Get(category))
		if !ok {
			return nil, bridge.Internalf("Can't get template category %q: expected object, got %s", category, kind(root.Get(category)))
		}
		for _, name := range group.Keys() {
			v := group.Get(name)
			text, ok := v.Export().(string)
			if !ok || !isString(v) {
				return nil, bridge.Internalf("Can't get template %q: expected string, got %s", Key(category, name), kind(v))
			}
			entries[Key(category, name)] = text
		}
	}
	return &Templates{entries: entries, reuseParams: reuse}, nil
}

// Templates returns the cached templates. It never touches the host loop.
func (p *Provider) Templates() *Templates {
	return p.templates
}

// CallTemplate asks the host object to expand one template with params by
// calling its callTemplate(name, params) method, which must return a
// string. It must not be called from a job.
func (p *Provider) CallTemplate(ctx context.Context, name string, params map[string]string) (string, error) {
	if !p.callable {
		return "", ErrTemplateCallUnsupported
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return "", ErrClosed
	}
	this := p.obj.Clone()
	p.mu.RUnlock()

	var fn *executor.Ref
	err := p.exec.Do(ctx, func(s *executor.Scope) error {
		o, err := this.Value(s)
		if err != nil {
			return err
		}
		method, ok := asObject(o.Get(callMethod))
		if !ok {
			return ErrTemplateCallUnsupported
		}
		if _, ok := goja.AssertFunction(method); !ok {
			return ErrTemplateCallUnsupported
		}
		fn = s.NewRef(method)
		return nil
	})
	if err != nil {
		this.Drop()
		return "", fmt.Errorf("call template %q: %w", name, err)
	}

	if params == nil {
		params = map[string]string{}
	}
	return bridge.CallMethod(ctx, p.exec, fn, this, bridge.Args(name, params), bridge.DecodeString)
}

// Close releases the host object. When the Provider holds the only
// reference, exactly one release job is scheduled on the host loop, even
// when the queue is full. When the reference is shared, nothing is
// scheduled and a leak warning is logged. Close is safe to call more than
// once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	obj := p.obj
	p.obj = nil

	if owners := obj.Count(); owners > 1 {
		p.logger.Warn("unable to release template provider object: reference is shared elsewhere, potential memory leak",
			zap.Int64("owners", owners))
		obj.Drop()
		return nil
	}

	err := p.exec.Schedule(func(s *executor.Scope) error {
		if _, err := obj.TryUnwrap(s); err != nil {
			p.logger.Warn("unable to release template provider object, potential memory leak", zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("unable to schedule template provider release, potential memory leak", zap.Error(err))
		return fmt.Errorf("release template provider: %w", err)
	}
	return nil
}

func asObject(v goja.Value) (*goja.Object, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	o, ok := v.(*goja.Object)
	return o, ok
}

func exportBool(v goja.Value) (bool, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false, false
	}
	b, ok := v.Export().(bool)
	if !ok {
		return false, false
	}
	if _, isObj := v.(*goja.Object); isObj {
		return false, false
	}
	return b, true
}

func isString(v goja.Value) bool {
	_, isObj := v.(*goja.Object)
	return !isObj
}

func kind(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "function"
	}
	if o, ok := v.(*goja.Object); ok {
		if o.ClassName() == "Array" {
			return "array"
		}
		return "object"
	}
	switch v.Export().(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	}
	return "unknown"
}
