package sharedrive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
)

// ZipDirectory walks dir with godirwalk and writes a store-only (no
// compression, per §6) zip archive of it to a sibling temp file named
// with a collision-free uuid, returning that temp path.
func ZipDirectory(dir string) (string, error) {
	tempPath := filepath.Join(filepath.Dir(dir), uuid.NewString()+".zip")
	out, err := os.Create(tempPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	walkErr := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			header := &zip.FileHeader{Name: filepath.ToSlash(rel), Method: zip.Store}
			writer, err := w.CreateHeader(header)
			if err != nil {
				return err
			}
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer src.Close()
			_, err = io.Copy(writer, src)
			return err
		},
	})
	if closeErr := w.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		os.Remove(tempPath)
		return "", walkErr
	}
	return tempPath, nil
}

// UnzipInto extracts the zip archive at zipPath into destDir, a sibling
// directory of the archive, matching the assembler's "unzip into a
// sibling directory and delete the zip" step.
func UnzipInto(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := EnsureDir(destDir); err != nil {
		return err
	}

	for _, f := range r.File {
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			continue // zip-slip guard: skip entries escaping destDir
		}
		if f.FileInfo().IsDir() {
			if err := EnsureDir(target); err != nil {
				return err
			}
			continue
		}
		if err := EnsureDir(filepath.Dir(target)); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// IsZip reports whether path names a .zip artefact.
func IsZip(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
