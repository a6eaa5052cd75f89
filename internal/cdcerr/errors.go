// Package cdcerr defines the error kinds recovered or surfaced by the
// CDC pipeline. Every fallible operation in the core returns one of
// these (wrapped with context) instead of an ad-hoc error string, so
// callers can branch on kind with errors.Is/errors.As.
package cdcerr

import "errors"

// Sentinel kinds matched with errors.Is. Wrap them with fmt.Errorf("...: %w", Kind)
// to attach context while keeping the kind inspectable.
var (
	// MalformedInput covers unparsable LSNs, unparsable WAL JSON, or
	// WAL rows missing required columns. Always locally recovered:
	// the offending item is discarded and a filter counter is bumped.
	MalformedInput = errors.New("malformed input")

	// SlotBusy means the replication slot is currently held by another
	// consumer. Callers must treat it as a no-op for the current tick,
	// not as a failure.
	SlotBusy = errors.New("replication slot busy")

	// SlotUnavailable covers connection or query failures against the
	// slot itself (as opposed to the rows it produces).
	SlotUnavailable = errors.New("replication slot unavailable")

	// HistoryWriteFailure means a batch insert into change_history
	// failed for some or all chunks.
	HistoryWriteFailure = errors.New("history write failure")

	// NotifyFailure means delivery to a single client failed. It is
	// isolated per client and never aborts the rest of a batch.
	NotifyFailure = errors.New("client notify failure")

	// ClientRegistryCorruption means a client registry entry could not
	// be decoded. The entry is deleted and the caller continues.
	ClientRegistryCorruption = errors.New("client registry entry corrupt")

	// StateWriteFailure means a durable state-store write failed.
	StateWriteFailure = errors.New("state write failure")
)
