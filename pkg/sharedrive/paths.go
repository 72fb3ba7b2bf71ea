// Package sharedrive is the reference application built on top of
// pkg/coap: a block-wise file transfer service exposed as a single
// "share_drive" CoAP resource, plus the filesystem helpers (exists,
// rename, move, delete, zip/unzip) the spec keeps external to the
// core runtime (§1 Out of scope).
package sharedrive

import (
	"os"
	"path/filepath"
)

// ServerResourceRoot is "<home>/coap/server/resources/<resourceName>/",
// the directory a server-side resource serves files out of.
func ServerResourceRoot(home, resourceName string) string {
	return filepath.Join(home, "coap", "server", "resources", resourceName)
}

// ClientDownloadsRoot is "<home>/coap/client/resources/downloads/",
// the directory a client writes reassembled downloads into.
func ClientDownloadsRoot(home string) string {
	return filepath.Join(home, "coap", "client", "resources", "downloads")
}

// HomeDir resolves the user's home directory, falling back to the
// working directory if it can't be determined (e.g. a minimal
// container with no HOME set).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// statDir reports whether path names a directory.
func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// EnsureDir creates dir (and its parents) if it doesn't already exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Rename renames the file or directory at path to newName, keeping it
// in the same parent directory.
func Rename(path, newName string) (string, error) {
	target := filepath.Join(filepath.Dir(path), newName)
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}

// Move relocates the file or directory at path into newLocation,
// keeping its base name.
func Move(path, newLocation string) (string, error) {
	target := filepath.Join(newLocation, filepath.Base(path))
	if err := EnsureDir(newLocation); err != nil {
		return "", err
	}
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}

// Delete removes the file or directory at path, recursively.
func Delete(path string) error {
	return os.RemoveAll(path)
}

func dirOf(path string) string {
	return filepath.Dir(path)
}

// trimZipExt strips a trailing ".zip" extension, giving the sibling
// directory name a completed zip transfer unpacks into.
func trimZipExt(path string) string {
	return path[:len(path)-len(filepath.Ext(path))]
}
