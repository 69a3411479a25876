// Package layout manages the lifecycle of benchmark files in the
// target directory: precreating populated files for read passes and
// cleaning the directory between runs.
package layout

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// LayoutTestFile creates a file of specified size filled with random data.
// if reinitialize is true, recreate the file even if it exists
func LayoutTestFile(file string, size int, reinitialize bool) error {
	// check if file already exists with correct size
	if !reinitialize && CheckExistingFile(file, size) {
		// file exists and is valid, no need to recreate
		return nil
	}

	// create a buffer for random data
	randomData := make([]byte, size)

	// fill buffer with random data
	_, err := rand.Read(randomData)
	if err != nil {
		return fmt.Errorf("failed to generate random data: %w", err)
	}

	// create the test file
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	// ensure file is closed when function returns
	defer f.Close()

	// write the random data to the file
	_, err = f.Write(randomData)
	if err != nil {
		return fmt.Errorf("failed to write random data to file: %w", err)
	}

	// sync file to ensure data is written to disk
	err = f.Sync()
	if err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

// CheckExistingFile verifies if a file exists with the correct size and permissions.
// returns true if file exists with correct size and is writable, false otherwise
func CheckExistingFile(file string, size int) bool {
	// get file information
	fileInfo, err := os.Stat(file)

	// if there's an error (including file not existing), return false
	if err != nil {
		return false
	}

	// check if the size matches what we expect
	if fileInfo.Size() != int64(size) {
		return false
	}

	// attempt to open the file for writing to verify permissions
	f, err := os.OpenFile(file, os.O_WRONLY, 0)

	// if we can't open the file for writing, return false
	if err != nil {
		return false
	}

	// close the file handle
	f.Close()

	// all checks passed, file exists and is writable
	return true
}

// CleanDir removes every regular file directly under dir, leaving the
// directory itself and any subdirectories in place. A missing directory
// is not an error.
func CleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}

	return nil
}
