package tracker

import "github.com/vadiminshakov/pulse/internal/domain"

// merge applies an incoming server-side action payload onto the local copy.
// Server fields overwrite local ones, except the local-only UI flags: Read,
// Dismissed and the resolved Timestamp are preserved from the existing record
// so a stale snapshot re-fetch can never clobber what the user already did.
// With a nil local record the incoming payload becomes a fresh record with
// clean local flags. The operation is idempotent.
func merge(local, incoming *domain.Action) *domain.Action {
	if incoming == nil {
		return local
	}
	if local == nil {
		fresh := incoming.Clone()
		fresh.Read = false
		fresh.Dismissed = false
		return fresh
	}

	merged := incoming.Clone()
	merged.Read = local.Read
	merged.Dismissed = local.Dismissed
	if !local.Timestamp.IsZero() {
		merged.Timestamp = local.Timestamp
	}
	return merged
}
