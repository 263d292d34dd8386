// Package attachments manages the on-disk attachment files that belong to
// scheduled jobs. Files live under <dir>/<owner-id>/<filename> beside the
// database; the scheduler removes them when their owning job has no fires
// left.
package attachments

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Attachment is one stored file.
type Attachment struct {
	Filename string
	Path     string
}

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes one attachment under the owner's directory. The original
// filename is preserved, sanitized to its base name.
func (s *Store) Save(ownerID, filename string, r io.Reader) (Attachment, error) {
	name := sanitize(filename)
	if name == "" {
		return Attachment{}, fmt.Errorf("invalid attachment filename %q", filename)
	}
	ownerDir := filepath.Join(s.dir, ownerID)
	if err := os.MkdirAll(ownerDir, 0o750); err != nil {
		return Attachment{}, fmt.Errorf("create attachment dir: %w", err)
	}
	path := filepath.Join(ownerDir, name)
	f, err := os.Create(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("create attachment file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(path)
		return Attachment{}, fmt.Errorf("write attachment: %w", err)
	}
	return Attachment{Filename: name, Path: path}, nil
}

// List returns the owner's stored attachments, sorted by filename.
func (s *Store) List(ownerID string) ([]Attachment, error) {
	ownerDir := filepath.Join(s.dir, ownerID)
	entries, err := os.ReadDir(ownerDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	out := make([]Attachment, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, Attachment{Filename: e.Name(), Path: filepath.Join(ownerDir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Remove deletes all of the owner's attachment files. Removing an owner
// that has none is not an error.
func (s *Store) Remove(ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("empty attachment owner id")
	}
	return os.RemoveAll(filepath.Join(s.dir, ownerID))
}

func sanitize(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
