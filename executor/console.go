package executor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// consolePrinter backs the host's console object. It is only used on the
// loop goroutine, so capture needs no locking.
type consolePrinter struct {
	stdout  io.Writer
	stderr  io.Writer
	capture *bytes.Buffer
}

func enableConsole(vm *goja.Runtime, stdout, stderr io.Writer) (*consolePrinter, error) {
	p := &consolePrinter{stdout: stdout, stderr: stderr}

	registry := new(require.Registry)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(p))
	registry.Enable(vm)
	console.Enable(vm)

	if obj := vm.Get("console"); obj == nil || goja.IsUndefined(obj) {
		return nil, fmt.Errorf("console module not installed")
	}
	return p, nil
}

func (p *consolePrinter) Log(s string) {
	p.write(p.stdout, s)
}

func (p *consolePrinter) Warn(s string) {
	p.write(p.stderr, s)
}

func (p *consolePrinter) Error(s string) {
	p.write(p.stderr, s)
}

func (p *consolePrinter) write(w io.Writer, s string) {
	if p.capture != nil {
		w = p.capture
	}
	if w == nil {
		return
	}
	io.WriteString(w, s+"\n")
}
