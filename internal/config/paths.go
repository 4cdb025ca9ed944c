package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the application paths. Relative paths are always anchored at
// the executable directory, never the current working directory.
type Paths struct {
	ExecutableDir string
	LicenseFile   string
	ConfigFile    string
	LogsDir       string
}

// executable is replaced in tests
var executable = os.Executable

// GetPaths returns the application paths relative to the executable location
func GetPaths() (*Paths, error) {
	exe, err := executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual executable location
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	exeDir := filepath.Dir(exe)
	return &Paths{
		ExecutableDir: exeDir,
		LicenseFile:   filepath.Join(exeDir, LicenseFileName),
		ConfigFile:    filepath.Join(exeDir, ConfigFileName),
		LogsDir:       filepath.Join(exeDir, filepath.Dir(DefaultLogFile)),
	}, nil
}

// Resolve returns p unchanged when absolute, otherwise joined to the
// executable directory
func (p *Paths) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.ExecutableDir, path)
}

// EnsureDirectories creates the directories holding the given files
func EnsureDirectories(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		dir := filepath.Dir(f)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LogPathResolution logs where the license and log files were resolved to
func (c *Config) LogPathResolution(logger *slog.Logger) {
	wd, _ := os.Getwd()
	logger.Info("Path resolution summary",
		slog.Group("paths",
			slog.String("license", c.License.File),
			slog.String("log_file", c.Logging.FilePath),
		),
		slog.Group("environment",
			slog.String("working_dir", wd),
		),
		slog.Group("status",
			slog.Bool("license_exists", FileExists(c.License.File)),
			slog.String("method", "executable-relative"),
		),
	)
}
