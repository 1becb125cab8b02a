package logger

import (
	"encoding/hex"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Request Context
	// ========================================================================
	KeyProcedure = "procedure" // Operation or procedure name
	KeyShare     = "share"     // Share or repository name
	KeyClientIP  = "client_ip" // Client IP address
	KeyUID       = "uid"       // User ID
	KeyGID       = "gid"       // Group ID
	KeyHandle    = "handle"    // Opaque handle, hex-encoded

	// ========================================================================
	// Catalog & Volumes
	// ========================================================================
	KeyVolumeName = "volume" // Remote volume file name (dblock/dindex/dfileset)
	KeyVolumeKind = "kind"   // Volume kind: dblock, dindex, dfileset
	KeyBackend    = "backend" // Catalog or object-store backend identifier

	// ========================================================================
	// Engine Operations
	// ========================================================================
	KeyRewritten = "rewritten" // Number of filesets rewritten by a purge/compact run
	KeyDryRun    = "dry_run"
	KeySize      = "size" // Byte size of an uploaded/sealed object

	// ========================================================================
	// Retry / Backoff
	// ========================================================================
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	// ========================================================================
	// Errors
	// ========================================================================
	KeyError = "error"
)

// ----------------------------------------------------------------------------
// Request Context
// ----------------------------------------------------------------------------

// Handle returns a slog.Attr for an opaque handle, hex-encoded.
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, hex.EncodeToString(h))
}

// ----------------------------------------------------------------------------
// Catalog & Volumes
// ----------------------------------------------------------------------------

// VolumeName returns a slog.Attr for a remote volume's file name.
func VolumeName(name string) slog.Attr {
	return slog.String(KeyVolumeName, name)
}

// VolumeKind returns a slog.Attr for a remote volume's kind
// (dblock, dindex, dfileset).
func VolumeKind(kind string) slog.Attr {
	return slog.String(KeyVolumeKind, kind)
}

// Backend returns a slog.Attr identifying a catalog or object-store
// backend (sqlite, postgres, s3, filesystem, ...).
func Backend(name string) slog.Attr {
	return slog.String(KeyBackend, name)
}

// ----------------------------------------------------------------------------
// Engine Operations
// ----------------------------------------------------------------------------

// Rewritten returns a slog.Attr for the number of filesets a purge or
// compact run rewrote.
func Rewritten(n int) slog.Attr {
	return slog.Int(KeyRewritten, n)
}

// DryRun returns a slog.Attr marking whether a run only simulated its
// side effects.
func DryRun(dryRun bool) slog.Attr {
	return slog.Bool(KeyDryRun, dryRun)
}

// Size returns a slog.Attr for a byte size.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// ----------------------------------------------------------------------------
// Retry / Backoff
// ----------------------------------------------------------------------------

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the configured maximum retry count.
func MaxRetries(n uint64) slog.Attr {
	return slog.Uint64(KeyMaxRetries, n)
}

// ----------------------------------------------------------------------------
// Errors
// ----------------------------------------------------------------------------

// Err returns a slog.Attr for an error, or a zero-value Attr if err is
// nil (slog drops zero-value Attrs rather than logging an empty key).
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
