package bridge_test

import (
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/hostcall/bridge"
)

func TestTokenResolveOnce(t *testing.T) {
	vm := goja.New()

	calls := 0
	var got goja.Value
	token := bridge.NewRawToken(func(vm *goja.Runtime, value goja.Value, err error) error {
		calls++
		got = value
		return err
	})

	require.NoError(t, token.Resolve(vm, vm.ToValue(7)))
	assert.True(t, token.Consumed())
	assert.EqualValues(t, 7, got.ToInteger())

	err := token.Resolve(vm, vm.ToValue(8))
	assert.ErrorIs(t, err, bridge.ErrAlreadyConsumed)
	err = token.Reject(vm, "late")
	assert.ErrorIs(t, err, bridge.ErrAlreadyConsumed)

	assert.Equal(t, 1, calls)
}

func TestTokenRejectOnce(t *testing.T) {
	vm := goja.New()

	var errs []error
	token := bridge.NewRawToken(func(vm *goja.Runtime, value goja.Value, err error) error {
		errs = append(errs, err)
		return nil
	})

	require.NoError(t, token.Reject(vm, "nope"))
	assert.ErrorIs(t, token.Resolve(vm, goja.Undefined()), bridge.ErrAlreadyConsumed)

	require.Len(t, errs, 1)
	assert.True(t, bridge.IsInternal(errs[0]))
	assert.Equal(t, "nope", errs[0].Error())
}

func TestTokenRejectKeepsMessageVerbatim(t *testing.T) {
	vm := goja.New()

	var got error
	token := bridge.NewToken(func(payload string, err error) error {
		got = err
		return nil
	})

	require.NoError(t, token.Reject(vm, "100% of %s failed"))
	require.Error(t, got)
	assert.Equal(t, "100% of %s failed", got.Error())
}

func TestInternalf(t *testing.T) {
	err := bridge.Internalf("bad field %q", "x")
	assert.True(t, bridge.IsInternal(err))
	assert.Equal(t, `bad field "x"`, err.Error())
	assert.Equal(t, "50%", bridge.Internal("50%").Error())
}

func TestTokenCallbackErrorPropagates(t *testing.T) {
	vm := goja.New()
	boom := errors.New("boom")

	token := bridge.NewRawToken(func(vm *goja.Runtime, value goja.Value, err error) error {
		return boom
	})

	assert.ErrorIs(t, token.Resolve(vm, goja.Null()), boom)
	assert.True(t, token.Consumed())
}

func TestStringTokenRejectsNonString(t *testing.T) {
	vm := goja.New()

	var got error
	token := bridge.NewToken(func(payload string, err error) error {
		got = err
		return nil
	})

	require.NoError(t, token.Resolve(vm, vm.ToValue(42)))
	require.Error(t, got)
	assert.True(t, bridge.IsInternal(got))
	assert.Contains(t, got.Error(), "Can't downcast callback argument")
}

func TestTokenObjectSecondResolveThrows(t *testing.T) {
	vm := goja.New()

	var payloads []string
	token := bridge.NewToken(func(payload string, err error) error {
		require.NoError(t, err)
		payloads = append(payloads, payload)
		return nil
	})
	require.NoError(t, vm.Set("token", token.Object(vm)))

	v, err := vm.RunString(`
		token.resolve("first");
		let caught = "";
		try {
			token.resolve("second");
		} catch (e) {
			caught = String(e);
		}
		caught;
	`)
	require.NoError(t, err)

	assert.Equal(t, []string{"first"}, payloads)
	assert.Contains(t, v.String(), "token already consumed")
}

func TestTokenObjectRejectNeedsString(t *testing.T) {
	vm := goja.New()

	token := bridge.NewToken(func(payload string, err error) error {
		return nil
	})
	require.NoError(t, vm.Set("token", token.Object(vm)))

	_, err := vm.RunString(`token.reject(12)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TypeError")
	assert.False(t, token.Consumed())
}

func TestTokenIDsAreUnique(t *testing.T) {
	a := bridge.NewToken(func(string, error) error { return nil })
	b := bridge.NewToken(func(string, error) error { return nil })
	assert.NotEqual(t, a.ID(), b.ID())
}
