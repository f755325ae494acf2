package bridge

import (
	"github.com/dop251/goja"
)

// EncodeValue converts arg with the runtime's default Go-to-host mapping.
func EncodeValue[T any](vm *goja.Runtime, arg T) (goja.Value, error) {
	return vm.ToValue(arg), nil
}

// DecodeInto exports a host value into R using the runtime's default
// host-to-Go mapping.
func DecodeInto[R any](vm *goja.Runtime, value goja.Value) (R, error) {
	var r R
	if value == nil {
		return r, Internal("no value to decode")
	}
	if err := vm.ExportTo(value, &r); err != nil {
		return r, Internalf("decode %s: %v", describe(value), err)
	}
	return r, nil
}

// DecodeString requires a host string.
func DecodeString(vm *goja.Runtime, value goja.Value) (string, error) {
	s, ok := exportString(value)
	if !ok {
		return "", Internalf("expected string, got %s", describe(value))
	}
	return s, nil
}

// Ignore discards the host value.
func Ignore(vm *goja.Runtime, value goja.Value) (struct{}, error) {
	return struct{}{}, nil
}

// Args builds positional arguments from Go values.
func Args(values ...any) ArgsBuilder {
	return func(vm *goja.Runtime) ([]goja.Value, error) {
		argv := make([]goja.Value, len(values))
		for i, v := range values {
			argv[i] = vm.ToValue(v)
		}
		return argv, nil
	}
}
