package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/strayfield/tilecache/tilemath"
)

func TestFileStorageRoundTrip(t *testing.T) {
	st, err := NewFileStorage(t.TempDir(), "png")
	if err != nil {
		t.Fatal(err)
	}
	key := tilemath.Key{Zoom: 16, X: 34539, Y: 22950}

	if st.Exists(key) {
		t.Fatal("fresh storage claims to hold a tile")
	}
	if _, err := st.Read(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read of missing tile: err = %v, want ErrNotFound", err)
	}

	payload := []byte{0x89, 'P', 'N', 'G'}
	if err := st.Write(key, payload); err != nil {
		t.Fatal(err)
	}
	if !st.Exists(key) {
		t.Fatal("written tile not found")
	}

	got, err := st.Read(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload = %v", got)
	}

	// Payloads live at {root}/{z}/{x}/{y}.{ext} so external tools can
	// address tiles directly.
	path := filepath.Join(st.Root(), "16", "34539", "22950.png")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected payload at %s: %v", path, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after write")
	}

	if err := st.Delete(key); err != nil {
		t.Fatal(err)
	}
	if st.Exists(key) {
		t.Fatal("tile still present after delete")
	}
	// Deleting again is fine.
	if err := st.Delete(key); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryStorageIsolatesCallers(t *testing.T) {
	st := NewMemoryStorage()
	key := tilemath.Key{Zoom: 3, X: 1, Y: 2}

	payload := []byte("abc")
	if err := st.Write(key, payload); err != nil {
		t.Fatal(err)
	}
	payload[0] = 'x'

	got, err := st.Read(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abc" {
		t.Fatalf("stored payload mutated: %q", got)
	}

	got[1] = 'y'
	again, _ := st.Read(key)
	if string(again) != "abc" {
		t.Fatalf("returned slice aliases the store: %q", again)
	}
}
