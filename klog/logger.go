// Package klog is the structured-logging facade used across the
// kernel-emulation core. It wraps github.com/joeycumines/logiface with the
// github.com/joeycumines/stumpy JSON backend so every subsystem logs
// through one narrow interface instead of calling fmt/log directly.
package klog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the type every kernel-emulation package accepts for
// diagnostics. It is a thin alias so callers never need to import
// logiface/stumpy directly.
type Logger = logiface.Logger[*stumpy.Event]

// New builds a Logger writing newline-delimited JSON to w. A nil w
// defaults to os.Stderr.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(w)))
}

// Discard is a Logger that drops every event; used as the default when a
// Runtime is constructed without an explicit logger (tests, embedding
// hosts that wire their own sink by other means).
func Discard() *Logger {
	return New(io.Discard)
}
