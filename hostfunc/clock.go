package hostfunc

import (
	"context"
	"time"
)

// Clock returns a time_now function reporting the current time. With
// args {format: "unix"} it returns Unix milliseconds, otherwise RFC 3339.
func Clock(now func() time.Time) Func {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, args map[string]any) (any, error) {
		t := now()
		if format, _ := args["format"].(string); format == "unix" {
			return t.UnixMilli(), nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	}
}

// Builtins registers time_now and the KV functions of kv on r.
func Builtins(r *Registry, kv *KV) {
	r.Register("time_now", Clock(nil))
	if kv != nil {
		kv.Register(r)
	}
}
