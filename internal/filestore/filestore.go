// Package filestore persists job artifacts on local disk, one directory per
// job under a single root. Artifact filenames are flat: a name that is empty,
// absolute, contains a path separator, or names a parent directory never
// reaches the filesystem.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finworks/reportd/internal/model"
)

// ErrNotFound is returned when an artifact or its job directory does not
// exist. Invalid filenames report ErrNotFound on reads so probing requests
// cannot distinguish traversal attempts from missing files.
var ErrNotFound = errors.New("artifact not found")

// contentTypes maps artifact extensions to MIME types. Report renderers emit
// a small fixed set of formats; anything else is served as a generic blob.
var contentTypes = map[string]string{
	".csv":  "text/csv",
	".html": "text/html",
	".json": "application/json",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".xml":  "application/xml",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ContentType returns the MIME type for an artifact filename based on its
// extension, defaulting to application/octet-stream.
func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Store writes and serves per-job artifact directories under root.
type Store struct {
	root string
}

// New creates the artifact root directory if needed and returns a store.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string {
	return s.root
}

// validFilename reports whether name is a plain file name that stays inside a
// job directory.
func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if filepath.IsAbs(name) {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return true
}

// Put writes one artifact into the job's directory, creating the directory on
// first use. The data is staged to a temporary file and renamed into place so
// readers never observe a partial artifact.
func (s *Store) Put(jobID, filename string, data []byte) (model.FileMeta, error) {
	if !validFilename(jobID) {
		return model.FileMeta{}, fmt.Errorf("invalid job id %q", jobID)
	}
	if !validFilename(filename) {
		return model.FileMeta{}, fmt.Errorf("invalid artifact filename %q", filename)
	}

	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.FileMeta{}, fmt.Errorf("create job directory: %w", err)
	}

	tmp := filepath.Join(dir, ".staging-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return model.FileMeta{}, fmt.Errorf("stage artifact: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, filename)); err != nil {
		os.Remove(tmp)
		return model.FileMeta{}, fmt.Errorf("publish artifact: %w", err)
	}

	return model.FileMeta{
		Filename:    filename,
		Size:        int64(len(data)),
		ContentType: ContentType(filename),
	}, nil
}

// List returns metadata for the job's artifacts sorted by filename. A job
// with no directory has no artifacts; that is not an error.
func (s *Store) List(jobID string) ([]model.FileMeta, error) {
	if !validFilename(jobID) {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(s.root, jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job directory: %w", err)
	}

	var files []model.FileMeta
	for _, entry := range entries {
		// Staging leftovers and other dotfiles are not artifacts.
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, model.FileMeta{
			Filename:    entry.Name(),
			Size:        info.Size(),
			ContentType: ContentType(entry.Name()),
		})
	}
	sort.Slice(files, func(i, k int) bool { return files[i].Filename < files[k].Filename })
	return files, nil
}

// Get reads one artifact. Missing files, missing jobs, and filenames that
// would leave the job directory all come back as ErrNotFound.
func (s *Store) Get(jobID, filename string) ([]byte, error) {
	if !validFilename(jobID) || !validFilename(filename) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, jobID, filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// RemoveJob deletes the job's artifact directory and everything in it.
// Removing a job that never wrote artifacts is a no-op.
func (s *Store) RemoveJob(jobID string) error {
	if !validFilename(jobID) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	if err := os.RemoveAll(filepath.Join(s.root, jobID)); err != nil {
		return fmt.Errorf("remove job directory: %w", err)
	}
	return nil
}

// PurgeOlderThan removes job directories whose last modification is older
// than age and returns the ids of the jobs it purged. Entries that are not
// job directories are left alone. Failures on individual directories are
// collected and returned after the whole sweep; they do not stop it.
func (s *Store) PurgeOlderThan(age time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read artifact root: %w", err)
	}

	cutoff := time.Now().Add(-age)
	var purged []string
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() || !model.IsID(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", entry.Name(), err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", entry.Name(), err))
			continue
		}
		purged = append(purged, entry.Name())
	}
	return purged, errors.Join(errs...)
}
