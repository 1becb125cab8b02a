package volume

import "errors"

// ErrAuthenticationFailed is returned by Reader when a container's HMAC
// tag does not match, indicating corruption or tampering.
var ErrAuthenticationFailed = errors.New("volume: container authentication failed")

// ErrEntryNotFound is returned when a named entry does not exist in a
// decoded container.
var ErrEntryNotFound = errors.New("volume: entry not found in container")

// ErrManifestMissing is returned when a container has no manifest entry.
var ErrManifestMissing = errors.New("volume: container has no manifest entry")
