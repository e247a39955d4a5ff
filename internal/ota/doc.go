// Package ota sequences over-the-air firmware updates.
//
// A Sequencer accepts an image name, resolves it against the configured
// base URL and runs a single download session on its own goroutine:
//
//	Idle -> Connecting -> FetchingManifest -> ValidatingManifest ->
//	Streaming -> VerifyingComplete -> Committing -> Rebooting
//
// Any failure after Connecting leaves through Aborted back to Idle without
// touching the boot slot. Progress is reported as event.KindOTA events with
// the cumulative byte count; every session ends with one event of count
// zero.
//
// The transport and slot storage are behind the Updater, Session and
// Partitions interfaces. The firmware package provides the production
// implementations.
package ota
