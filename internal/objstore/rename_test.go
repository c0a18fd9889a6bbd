package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is a test double with per-operation failure injection.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	failCopy      bool
	failDelete    bool
	hideAfterCopy bool // make verify see a missing destination
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memStore) SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error) {
	return "mem://" + key, nil
}

func (m *memStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	if m.failCopy {
		return errors.New("copy refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[srcKey]
	if !ok {
		return errors.New("no such key")
	}
	if !m.hideAfterCopy {
		m.objects[dstKey] = append([]byte(nil), b...)
	}
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	if m.failDelete && strings.HasPrefix(key, "tmp/") {
		return errors.New("delete refused")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func put(t *testing.T, m *memStore, key, body string) {
	t.Helper()
	if err := m.Put(context.Background(), key, bytes.NewReader([]byte(body)), ""); err != nil {
		t.Fatal(err)
	}
}

func TestRename_HappyPath(t *testing.T) {
	m := newMemStore()
	put(t, m, "tmp/tok1/invoice.pdf", "pdf-bytes")
	r := NewRenamer(m)

	if err := r.Rename(context.Background(), "tmp/tok1/invoice.pdf", "requests/TCRS-2026-000001/invoice.pdf"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if ok, _ := m.Exists(context.Background(), "tmp/tok1/invoice.pdf"); ok {
		t.Fatal("source still present")
	}
	if ok, _ := m.Exists(context.Background(), "requests/TCRS-2026-000001/invoice.pdf"); !ok {
		t.Fatal("destination missing")
	}
}

func TestRename_CopyFails_SourceKept(t *testing.T) {
	m := newMemStore()
	m.failCopy = true
	put(t, m, "tmp/tok1/invoice.pdf", "pdf-bytes")

	err := NewRenamer(m).Rename(context.Background(), "tmp/tok1/invoice.pdf", "requests/x/invoice.pdf")
	if err == nil {
		t.Fatal("expected error")
	}
	if ok, _ := m.Exists(context.Background(), "tmp/tok1/invoice.pdf"); !ok {
		t.Fatal("source must survive a failed copy")
	}
}

func TestRename_VerifyFails(t *testing.T) {
	m := newMemStore()
	m.hideAfterCopy = true
	put(t, m, "tmp/tok1/invoice.pdf", "pdf-bytes")

	err := NewRenamer(m).Rename(context.Background(), "tmp/tok1/invoice.pdf", "requests/x/invoice.pdf")
	if err == nil || !strings.Contains(err.Error(), "verify") {
		t.Fatalf("err = %v", err)
	}
	if ok, _ := m.Exists(context.Background(), "tmp/tok1/invoice.pdf"); !ok {
		t.Fatal("source must survive a failed verify")
	}
}

func TestRename_DeleteFails_SourceRetained(t *testing.T) {
	m := newMemStore()
	m.failDelete = true
	put(t, m, "tmp/tok1/invoice.pdf", "pdf-bytes")
	r := NewRenamer(m)

	err := r.Rename(context.Background(), "tmp/tok1/invoice.pdf", "requests/x/invoice.pdf")
	if !errors.Is(err, ErrSourceRetained) {
		t.Fatalf("err = %v, want ErrSourceRetained", err)
	}
	// destination is usable despite the error
	if ok, _ := m.Exists(context.Background(), "requests/x/invoice.pdf"); !ok {
		t.Fatal("destination missing")
	}

	// later cleanup succeeds once deletes work again, and is idempotent
	m.failDelete = false
	if err := r.Cleanup(context.Background(), "tmp/tok1/invoice.pdf"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := r.Cleanup(context.Background(), "tmp/tok1/invoice.pdf"); err != nil {
		t.Fatalf("cleanup again: %v", err)
	}
}

func TestRename_MissingSource(t *testing.T) {
	err := NewRenamer(newMemStore()).Rename(context.Background(), "tmp/none", "requests/x")
	if err == nil || !strings.Contains(err.Error(), "source missing") {
		t.Fatalf("err = %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"tmp/tok/../../etc/passwd": "tmp/tok/etc/passwd",
		"a\\b\\c":                  "a/b/c",
		"//a//b/":                  "a/b",
		"./a":                      "a",
	}
	for in, want := range cases {
		if got := sanitizeKey(in); got != want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}
