// Package config loads macrotool configuration.
//
// # Configuration Sources
//
// Values are applied in order of increasing precedence:
//
//	1. Default()
//	2. YAML file (macrotool.yaml beside the executable, ./macrotool.yaml,
//	   ./configs/macrotool.yaml, or the file named by --config / MACROTOOL_CONFIG)
//	3. Environment variables
//
// # Environment Variables
//
// Every variable is prefixed with MACROTOOL and follows the struct layout:
//
//	MACROTOOL_LICENSE_FILE=/opt/macrotool/license.key
//	MACROTOOL_LICENSE_SECRET=<base64url secret>
//	MACROTOOL_LICENSE_MACHINE_ID_SOURCE=mac
//	MACROTOOL_SERVER_ADDR=127.0.0.1:8765
//	MACROTOOL_LOGGING_LEVEL=debug
//
// # License Keys
//
// The keys that open a license file come from, in order: an explicit
// fernet_key plus signing_secret pair, a single secret from which both keys
// are derived, or EmbeddedSecret set at link time.
//
// Relative paths are resolved against the executable directory so the
// application behaves the same whatever the working directory.
package config
