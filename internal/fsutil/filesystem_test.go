package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_AppendAndSeek(t *testing.T) {
	fsys := OSFileSystem{}
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := f.Write([]byte("[1]")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := f.Seek(-1, io.SeekEnd); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if _, err := f.Write([]byte(",2]")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "[1,2]" {
		t.Errorf("expected %q, got %q", "[1,2]", data)
	}
}

func TestMemoryFileSystem_CreateWriteRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	f, err := mfs.OpenFile("/created.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := f.Write([]byte("created content")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := mfs.ReadFile("/created.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "created content" {
		t.Errorf("expected 'created content', got %q", data)
	}
}

func TestMemoryFileSystem_Append(t *testing.T) {
	mfs := NewMemoryFileSystem()

	for _, chunk := range []string{"a,b\n", "1,2\n", "3,4\n"} {
		f, err := mfs.OpenFile("/rows.csv", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatalf("OpenFile failed: %v", err)
		}
		if _, err := f.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		f.Close()
	}

	data, _ := mfs.ReadFile("/rows.csv")
	if string(data) != "a,b\n1,2\n3,4\n" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestMemoryFileSystem_SeekOverwrite(t *testing.T) {
	mfs := NewMemoryFileSystem()

	f, err := mfs.OpenFile("/doc.json", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()

	f.Write([]byte("[\n1\n]\n"))
	pos, err := f.Seek(-2, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if pos != 4 {
		t.Errorf("expected position 4, got %d", pos)
	}
	f.Write([]byte(",\n2\n]\n"))

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "[\n1\n,\n2\n]\n" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestMemoryFileSystem_OpenErrors(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.OpenFile("/missing.txt", os.O_RDONLY, 0); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	if _, err := mfs.OpenFile("/no/such/dir/file.txt", os.O_CREATE|os.O_WRONLY, 0o644); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing parent, got %v", err)
	}

	f, _ := mfs.OpenFile("/x.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	f.Close()
	if _, err := mfs.OpenFile("/x.txt", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644); !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}

	ro, _ := mfs.OpenFile("/x.txt", os.O_RDONLY, 0)
	if _, err := ro.Write([]byte("nope")); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected ErrPermission, got %v", err)
	}
}

func TestMemoryFileSystem_WriteErr(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteErr = errors.New("disk full")

	f, err := mfs.OpenFile("/full.txt", os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := f.Write([]byte("x")); err == nil || err.Error() != "disk full" {
		t.Errorf("expected disk full, got %v", err)
	}
}

func TestMemoryFileSystem_StatAndDirs(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/data/captures", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !mfs.Exists("/data") || !mfs.Exists("/data/captures") {
		t.Error("expected parent and leaf directories to exist")
	}

	f, err := mfs.OpenFile("/data/captures/a.csv", os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	f.Write([]byte("12345"))
	f.Close()

	info, err := mfs.Stat("/data/captures/a.csv")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 5 || info.Name() != "a.csv" || info.IsDir() {
		t.Errorf("unexpected file info: size=%d name=%s dir=%v", info.Size(), info.Name(), info.IsDir())
	}

	dirInfo, err := mfs.Stat("/data/captures")
	if err != nil || !dirInfo.IsDir() {
		t.Errorf("expected directory info, got %v, %v", dirInfo, err)
	}

	if got := mfs.Files(); len(got) != 1 || got[0] != "/data/captures/a.csv" {
		t.Errorf("unexpected files %v", got)
	}

	if err := mfs.Remove("/data/captures/a.csv"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if mfs.Exists("/data/captures/a.csv") {
		t.Error("expected file to be removed")
	}
	if err := mfs.Remove("/data/captures/a.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist on second remove, got %v", err)
	}
}

func TestMemoryFileSystem_ClosedHandle(t *testing.T) {
	mfs := NewMemoryFileSystem()
	f, _ := mfs.OpenFile("/c.txt", os.O_CREATE|os.O_RDWR, 0o644)
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.Write([]byte("x")); err == nil {
		t.Error("expected error writing to closed handle")
	}
	if err := f.Close(); err == nil {
		t.Error("expected error on double close")
	}
}
