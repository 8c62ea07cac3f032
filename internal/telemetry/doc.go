// Package telemetry bootstraps OpenTelemetry for turbine and implements the
// span/metric/log port the effect interpreter consumes.
//
// Telemetry is optional and degrades gracefully: with telemetry disabled or
// an exporter unreachable, spans and metrics become no-ops and the session
// keeps running.
package telemetry
