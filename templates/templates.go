package templates

import (
	"maps"
	"slices"
	"strings"
)

// Templates is an immutable set of template texts keyed by
// "category/name", together with the reuse-parameters flag reported by the
// host object it was read from.
type Templates struct {
	entries     map[string]string
	reuseParams bool
}

// NewTemplates copies entries into a new Templates.
func NewTemplates(entries map[string]string, reuseParams bool) *Templates {
	return &Templates{
		entries:     maps.Clone(entries),
		reuseParams: reuseParams,
	}
}

// Key joins a category and a template name.
func Key(category, name string) string {
	return category + "/" + name
}

// Get returns the text stored under key.
func (t *Templates) Get(key string) (string, bool) {
	text, ok := t.entries[key]
	return text, ok
}

// Lookup returns the text of name within category.
func (t *Templates) Lookup(category, name string) (string, bool) {
	return t.Get(Key(category, name))
}

// Names returns every key in lexical order.
func (t *Templates) Names() []string {
	return slices.Sorted(maps.Keys(t.entries))
}

// Categories returns the distinct categories in lexical order.
func (t *Templates) Categories() []string {
	seen := make(map[string]struct{})
	for key := range t.entries {
		category, _, _ := strings.Cut(key, "/")
		seen[category] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Len returns the number of templates.
func (t *Templates) Len() int {
	return len(t.entries)
}

// ReuseParams reports whether generated statements may reuse bound
// parameters.
func (t *Templates) ReuseParams() bool {
	return t.reuseParams
}

// All returns a copy of every entry.
func (t *Templates) All() map[string]string {
	return maps.Clone(t.entries)
}
