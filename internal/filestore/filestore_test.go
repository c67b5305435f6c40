package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/finworks/reportd/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPutListGet(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.Put("job-1", "report.csv", []byte("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if meta.Filename != "report.csv" || meta.Size != 8 || meta.ContentType != "text/csv" {
		t.Errorf("Put meta = %+v", meta)
	}
	if _, err := s.Put("job-1", "report.html", []byte("<html></html>")); err != nil {
		t.Fatalf("Put html: %v", err)
	}

	files, err := s.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List = %d files, want 2", len(files))
	}
	// Sorted by filename.
	if files[0].Filename != "report.csv" || files[1].Filename != "report.html" {
		t.Errorf("List order = %q, %q", files[0].Filename, files[1].Filename)
	}
	if files[1].ContentType != "text/html" {
		t.Errorf("html content type = %q", files[1].ContentType)
	}

	data, err := s.Get("job-1", "report.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("Get = %q", data)
	}
}

func TestContentType(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"report.csv", "text/csv"},
		{"report.CSV", "text/csv"},
		{"report.html", "text/html"},
		{"report.json", "application/json"},
		{"report.pdf", "application/pdf"},
		{"report.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"report.bin", "application/octet-stream"},
		{"noext", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := ContentType(tc.filename); got != tc.want {
			t.Errorf("ContentType(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestPutOverwrite(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Put("job-1", "report.txt", []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put("job-1", "report.txt", []byte("second")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	data, err := s.Get("job-1", "report.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Get after overwrite = %q, want second", data)
	}

	files, err := s.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("List after overwrite = %d files, want 1", len(files))
	}
}

func TestListUnknownJob(t *testing.T) {
	s := newTestStore(t)

	files, err := s.List("never-wrote")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("List = %v, want empty", files)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Put("job-1", "report.csv", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := s.Get("job-1", "other.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown file = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("job-2", "report.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown job = %v, want ErrNotFound", err)
	}
}

func TestTraversalRejected(t *testing.T) {
	parent := t.TempDir()
	s, err := New(filepath.Join(parent, "artifacts"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A real file outside the artifact root must stay unreachable.
	secret := filepath.Join(parent, "secret.txt")
	if err := os.WriteFile(secret, []byte("credentials"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	bad := []string{
		"",
		".",
		"..",
		"../secret.txt",
		"../../secret.txt",
		"/etc/passwd",
		"sub/file.txt",
		`sub\file.txt`,
	}
	for _, name := range bad {
		if _, err := s.Get("job-1", name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) = %v, want ErrNotFound", name, err)
		}
		if _, err := s.Put("job-1", name, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", name)
		}
		if _, err := s.Get(name, "report.csv"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get with job id %q = %v, want ErrNotFound", name, err)
		}
	}

	if _, err := os.Stat(secret); err != nil {
		t.Fatalf("secret file disturbed: %v", err)
	}
}

func TestRemoveJob(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Put("job-1", "report.csv", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.RemoveJob("job-1"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if _, err := s.Get("job-1", "report.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after remove = %v, want ErrNotFound", err)
	}
	files, err := s.List("job-1")
	if err != nil || len(files) != 0 {
		t.Errorf("List after remove = %v, %v", files, err)
	}

	// Removing twice is fine.
	if err := s.RemoveJob("job-1"); err != nil {
		t.Errorf("second RemoveJob = %v", err)
	}
	if err := s.RemoveJob("../artifacts"); err == nil {
		t.Error("RemoveJob with traversal succeeded, want error")
	}
}

func TestListSkipsStagingFiles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Put("job-1", "report.csv", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Simulate a crash that left a staging file behind.
	leftover := filepath.Join(s.Root(), "job-1", ".staging-abandoned")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write staging leftover: %v", err)
	}

	files, err := s.List("job-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "report.csv" {
		t.Errorf("List = %v, want only report.csv", files)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := newTestStore(t)

	oldID := model.NewID()
	newID := model.NewID()
	if _, err := s.Put(oldID, "report.csv", []byte("old")); err != nil {
		t.Fatalf("Put old: %v", err)
	}
	if _, err := s.Put(newID, "report.csv", []byte("new")); err != nil {
		t.Fatalf("Put new: %v", err)
	}

	// A directory that is not a job id must survive any purge.
	keep := filepath.Join(s.Root(), "not-a-job-id")
	if err := os.MkdirAll(keep, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	aged := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(s.Root(), oldID), aged, aged); err != nil {
		t.Fatalf("age directory: %v", err)
	}
	if err := os.Chtimes(keep, aged, aged); err != nil {
		t.Fatalf("age directory: %v", err)
	}

	purged, err := s.PurgeOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if len(purged) != 1 || purged[0] != oldID {
		t.Errorf("purged = %v, want [%s]", purged, oldID)
	}

	if _, err := s.Get(oldID, "report.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old artifact still readable after purge: %v", err)
	}
	if _, err := s.Get(newID, "report.csv"); err != nil {
		t.Errorf("recent artifact purged: %v", err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("non-job directory purged: %v", err)
	}

	// Nothing left to purge.
	purged, err = s.PurgeOlderThan(24 * time.Hour)
	if err != nil || len(purged) != 0 {
		t.Errorf("second purge = %v, %v, want none", purged, err)
	}
}
