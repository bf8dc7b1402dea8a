// Package telemetry receives fire-and-forget audio level reports from the
// pipeline and periodically logs them alongside process health.
//
// Reports never block the caller. When the monitor falls behind, reports are
// dropped and counted.
package telemetry
