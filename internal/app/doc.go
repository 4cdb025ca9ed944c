// Package app wires configuration, logging, telemetry, the license
// validator and the local status API together.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, YAML and MACROTOOL_* variables
//	2. Initialize logging and OpenTelemetry
//	3. Derive the license keys and the machine identifier provider
//	4. Validate the license file once and store the Entitlement
//	5. Build the chi router and the HTTP server
//
// The Entitlement is never recomputed while the process runs. Components
// that gate automation receive it explicitly.
//
// # Graceful Shutdown
//
// Run stops on SIGINT, SIGTERM or context cancellation. The server drains
// within ShutdownTimeout and Close flushes telemetry.
//
// # Error Handling
//
// All initialization errors are returned to the caller. The app does not
// call os.Exit(), allowing the command layer to choose the exit code.
package app
