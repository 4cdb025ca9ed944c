package main

import (
	"errors"

	"macrotool/internal/app"
	"macrotool/internal/config"
	"macrotool/internal/license"
)

// Process exit codes. Each license failure kind has its own code so
// launchers can tell them apart.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitConfig          = 2
	ExitLicenseIO       = 10
	ExitLicenseCorrupt  = 11
	ExitLicenseTampered = 12
	ExitLicenseExpired  = 13
	ExitMachineMismatch = 14
)

var kindExitCodes = map[license.Kind]int{
	license.KindIO:              ExitLicenseIO,
	license.KindCorrupt:         ExitLicenseCorrupt,
	license.KindTampered:        ExitLicenseTampered,
	license.KindExpired:         ExitLicenseExpired,
	license.KindMachineMismatch: ExitMachineMismatch,
}

// exitCode maps an error returned by a command to the process exit code
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if code, ok := kindExitCodes[license.KindOf(err)]; ok {
		return code
	}
	if errors.Is(err, config.ErrNoSecret) || errors.Is(err, app.ErrConfig) {
		return ExitConfig
	}
	return ExitFailure
}
