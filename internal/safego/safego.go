// Package safego provides a panic-recovering goroutine launcher for
// background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. All fire-and-forget goroutines
// (sink delivery, detection evaluation, last-used tracking) go through here
// so an unrecovered panic cannot silently kill a background path forever.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
