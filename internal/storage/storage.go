package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BlobStore persists downloaded media binaries under a relative locator and
// serves them back by the same locator.
type BlobStore interface {
	Put(ctx context.Context, locator string, data []byte) error
	Get(ctx context.Context, locator string) ([]byte, error)
	Exists(ctx context.Context, locator string) (bool, error)
}

var unsafeChars = regexp.MustCompile(`[^\w\-.]`)

// SanitizeFilename strips path separators and anything outside
// [A-Za-z0-9_-.] so a provider-supplied filename can never escape the
// storage root.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	return name
}

// BuildMediaPath derives the storage locator for a media file:
// {folder}/{yyyy}/{mm}/{dd}/{filename}. When filename is empty a random one
// is generated with the fallback extension.
func BuildMediaPath(folder, filename, fallbackExt string, when time.Time) string {
	filename = SanitizeFilename(filename)
	if filename == "" {
		filename = "whatsapp_" + uuid.NewString() + "." + fallbackExt
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s",
		folder, when.Year(), int(when.Month()), when.Day(), filename)
}

// DiskStore is a BlobStore rooted at a local directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) path(locator string) (string, error) {
	clean := filepath.Clean(locator)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DiskStore) Put(_ context.Context, locator string, data []byte) error {
	path, err := s.path(locator)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *DiskStore) Get(_ context.Context, locator string) ([]byte, error) {
	path, err := s.path(locator)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *DiskStore) Exists(_ context.Context, locator string) (bool, error) {
	path, err := s.path(locator)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
