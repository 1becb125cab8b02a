package telemetry

// Config holds OpenTelemetry configuration.
type Config struct {
	// Enabled indicates whether tracing is enabled.
	Enabled bool

	// ServiceName is the name reported to the trace backend.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Output selects where spans are written: "stdout", "stderr", or a
	// file path. coldvault runs as a CLI invocation rather than a
	// long-lived server, so there is no collector to dial; spans are
	// written locally alongside the structured log.
	Output string

	// SampleRate is the trace sampling rate (0.0 to 1.0).
	// 1.0 means sample all traces, 0.5 means sample 50%.
	SampleRate float64
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "coldvault",
		ServiceVersion: "dev",
		Output:         "stdout",
		SampleRate:     1.0,
	}
}
