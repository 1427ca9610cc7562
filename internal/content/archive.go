package content

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrArchiveTooLarge indicates the archive expands beyond the configured limit.
var ErrArchiveTooLarge = errors.New("archive uncompressed size too large")

// ErrUnsafeArchivePath indicates an entry tries to escape the extraction root.
var ErrUnsafeArchivePath = errors.New("archive entry escapes extraction root")

// ArchiveError describes a failed extraction of one archive.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// ExtractZip unpacks src into dest. maxBytes bounds the total uncompressed size; zero
// disables the check.
func ExtractZip(src, dest string, maxBytes int64) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return &ArchiveError{Path: src, Err: err}
	}
	defer reader.Close()

	var total uint64
	for _, entry := range reader.File {
		total += entry.UncompressedSize64
		if maxBytes > 0 && total > uint64(maxBytes) {
			return &ArchiveError{Path: src, Err: ErrArchiveTooLarge}
		}
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &ArchiveError{Path: src, Err: err}
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return &ArchiveError{Path: src, Err: err}
	}

	for _, entry := range reader.File {
		if err := extractEntry(entry, root, maxBytes); err != nil {
			return &ArchiveError{Path: src, Err: err}
		}
	}
	return nil
}

func extractEntry(entry *zip.File, root string, maxBytes int64) error {
	target := filepath.Join(root, filepath.FromSlash(entry.Name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %s", ErrUnsafeArchivePath, entry.Name)
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if entry.Mode()&os.ModeSymlink != 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	var src io.Reader = rc
	if maxBytes > 0 {
		src = io.LimitReader(rc, maxBytes+1)
	}
	written, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if maxBytes > 0 && written > maxBytes {
		return ErrArchiveTooLarge
	}
	return closeErr
}

func fileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
