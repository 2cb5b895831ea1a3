// Package reactive is the boundary between the resource cache and the
// reactive recomputation substrate.
//
// The cache depends on three primitives only:
//   - Watcher: a token representing "the current recomputation"
//   - ChangeSource: attach interest (AttachWatcher) and notify-and-detach
//     every interested watcher (MarkChanged)
//   - Ctx.MarkUnstable: flag the current result as not permanent even though
//     no specific signal will fire for it
//
// Tracker, Pass and Computable are a minimal substrate built on those
// primitives. They are used by tests and by the CLI to observe the cache.
package reactive
