package rotate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeTimes struct {
	t   time.Time
	err error
}

func (f fakeTimes) CreationTime(path string) (time.Time, error) {
	return f.t, f.err
}

func TestArchiverRotate(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "root")
	backups := filepath.Join(tmp, "root-backups")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(backups, 0755); err != nil {
		t.Fatal(err)
	}

	created := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	a := NewArchiver(testLogger(), fakeTimes{t: created}, "20060102_150405", ModeApply)

	arch, err := a.Rotate(root, backups)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if arch == nil {
		t.Fatal("expected an archive result")
	}

	if arch.Name != "20240315_103000" {
		t.Errorf("archive name = %q, want 20240315_103000", arch.Name)
	}
	if arch.Dest != filepath.Join(backups, "20240315_103000") {
		t.Errorf("archive dest = %q", arch.Dest)
	}

	if _, err := os.Stat(root); !errors.Is(err, fs.ErrNotExist) {
		t.Error("root volume still present after rotation")
	}
	info, err := os.Stat(arch.Dest)
	if err != nil || !info.IsDir() {
		t.Errorf("archived volume missing at %s: %v", arch.Dest, err)
	}
}

func TestArchiverMissingRoot(t *testing.T) {
	a := NewArchiver(testLogger(), fakeTimes{err: fs.ErrNotExist}, "20060102_150405", ModeApply)

	arch, err := a.Rotate("/nope/root", "/nope/backups")
	if err != nil {
		t.Fatalf("missing root should not be an error, got %v", err)
	}
	if arch != nil {
		t.Errorf("missing root should produce no archive, got %+v", arch)
	}
}

func TestArchiverMetadataError(t *testing.T) {
	a := NewArchiver(testLogger(), fakeTimes{err: errors.New("permission denied")}, "20060102_150405", ModeApply)

	_, err := a.Rotate("/root", "/backups")
	if err == nil {
		t.Fatal("expected error")
	}

	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != OpCreationDate {
		t.Errorf("expected fatal op %q, got %v", OpCreationDate, err)
	}
}

func TestArchiverRenameFailure(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "root")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatal(err)
	}

	// Backups directory deliberately absent.
	a := NewArchiver(testLogger(), fakeTimes{t: time.Unix(0, 0)}, "20060102_150405", ModeApply)

	_, err := a.Rotate(root, filepath.Join(tmp, "missing-backups"))
	if err == nil {
		t.Fatal("expected rename into a missing directory to fail")
	}

	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != OpArchive {
		t.Errorf("expected fatal op %q, got %v", OpArchive, err)
	}
}

func TestArchiverDryRun(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "root")
	backups := filepath.Join(tmp, "root-backups")
	if err := os.Mkdir(root, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(backups, 0755); err != nil {
		t.Fatal(err)
	}

	created := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	a := NewArchiver(testLogger(), fakeTimes{t: created}, "20060102_150405", ModeDryRun)

	arch, err := a.Rotate(root, backups)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if arch == nil || arch.Name != "20240315_103000" {
		t.Fatalf("dry run should still describe the archive, got %+v", arch)
	}

	// No mutation took place.
	if _, err := os.Stat(root); err != nil {
		t.Error("dry run moved the root volume")
	}
	dirents, err := os.ReadDir(backups)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirents) != 0 {
		t.Errorf("dry run wrote into the backups directory: %d entries", len(dirents))
	}
}
