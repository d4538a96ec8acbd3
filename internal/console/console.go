// Package console provides the debug-output contract: an io.Writer-shaped
// interface guarded by a spinlock.Lock, so that console output is never
// interleaved between concurrent writers. No register-level UART driver
// lives here, only the serialization boundary a real driver satisfies.
package console

import (
	"fmt"
	"io"

	"kmazarin/internal/spinlock"
)

// Writer serializes access to an underlying io.Writer with a
// spinlock.Lock: every byte sequence written through it is atomic with
// respect to other writers.
type Writer struct {
	lock spinlock.Lock
	out  io.Writer
}

// New wraps out in a lock-guarded Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Write implements io.Writer, serializing concurrent callers.
func (w *Writer) Write(p []byte) (int, error) {
	w.lock.LockWait()
	defer w.lock.Unlock()
	return w.out.Write(p)
}

// PutHex64 writes val as 16 uppercase hex digits.
func (w *Writer) PutHex64(val uint64) {
	fmt.Fprintf(w, "%016X", val)
}

// PutHex32 writes val as 8 uppercase hex digits.
func (w *Writer) PutHex32(val uint32) {
	fmt.Fprintf(w, "%08X", val)
}

// Puts writes s with no implicit newline.
func (w *Writer) Puts(s string) {
	fmt.Fprint(w, s)
}
