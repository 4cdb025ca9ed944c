package license

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MaxFileSize bounds how much of a license file is read. Genuine tokens are a
// few hundred bytes.
const MaxFileSize = 64 << 10

// ReadLicenseFile returns the raw token stored at path
func ReadLicenseFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Path: path, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, &Error{Kind: KindIO, Path: path, Err: err}
	}
	if len(data) > MaxFileSize {
		return nil, &Error{Kind: KindCorrupt, Path: path, Err: fmt.Errorf("file exceeds %d bytes", MaxFileSize)}
	}
	return data, nil
}

// WriteLicenseFile atomically replaces the file at path with token followed
// by a newline. The file is readable by its owner only.
func WriteLicenseFile(path string, token []byte) error {
	if len(token) == 0 {
		return errors.New("license token is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create license directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary license file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	data := make([]byte, 0, len(token)+1)
	data = append(data, token...)
	data = append(data, '\n')

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write license file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set license file permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync license file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close license file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install license file: %w", err)
	}
	return nil
}

// RemoveLicenseFile deletes the license at path. A missing file is not an error.
func RemoveLicenseFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove license file: %w", err)
	}
	return nil
}
