// Package testutil provides common test helpers for vmbundle tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteScript writes body as an executable /bin/sh script in a temporary
// directory and returns its path. The directory is removed when the test
// ends.
func WriteScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}

// FakeDiskutil returns a script that stands in for the disk image helper.
// "image create" writes an empty file at the last argument; "image resize"
// prints percentage markers. Every invocation appends its arguments to a
// log file whose path is returned second.
func FakeDiskutil(t *testing.T) (script, log string) {
	t.Helper()

	log = filepath.Join(t.TempDir(), "diskutil.log")
	script = WriteScript(t, `echo "$@" >> '`+log+`'
for last in "$@"; do :; done
case "$2" in
create) : > "$last" ;;
resize)
	echo "[10% completed]"
	echo "[60% completed]"
	echo "[100% completed]"
	;;
esac`)
	return script, log
}

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
// The file is created as a sparse file, so it doesn't actually allocate all the space.
func CreateTestDisk(t *testing.T, path string, sizeMB int64) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	sizeBytes := sizeMB * 1024 * 1024
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", sizeBytes, err)
	}
}
