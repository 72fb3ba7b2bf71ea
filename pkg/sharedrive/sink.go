package sharedrive

import (
	"os"

	"github.com/dtudor/coap-share-drive/pkg/coap/blockwise"
)

// FileSink is the filesystem-backed blockwise.Sink both the server
// (reassembling an upload) and the client (reassembling a download)
// use: it appends blocks to destPath in order and, if destPath is a
// .zip artefact, unpacks it into a sibling directory on Finalize (the
// assembler's invariant 5: "if destination ends in .zip, unzip into a
// sibling directory and delete the zip").
type FileSink struct {
	destPath string
	file     *os.File
}

// NewFileSink builds a Sink that writes blocks to destPath.
func NewFileSink(destPath string) *FileSink {
	return &FileSink{destPath: destPath}
}

// Reset deletes any stale file at destPath and opens a fresh one for
// appending, matching "if the destination file exists, delete it".
func (s *FileSink) Reset() error {
	if Exists(s.destPath) {
		if err := os.Remove(s.destPath); err != nil {
			return err
		}
	}
	if err := EnsureDir(dirOf(s.destPath)); err != nil {
		return err
	}
	file, err := os.OpenFile(s.destPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = file
	return nil
}

// Append writes payload as the next in-order block.
func (s *FileSink) Append(payload []byte) error {
	_, err := s.file.Write(payload)
	return err
}

// Finalize closes the destination file and, when it is a .zip
// artefact, unzips it into a sibling directory and removes the zip.
func (s *FileSink) Finalize() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	if !IsZip(s.destPath) {
		return nil
	}
	destDir := trimZipExt(s.destPath)
	if err := UnzipInto(s.destPath, destDir); err != nil {
		return err
	}
	return os.Remove(s.destPath)
}

var _ blockwise.Sink = (*FileSink)(nil)
