package backend

import (
	"testing"

	"github.com/sirupsen/logrus"

	"jjcore/pkg/ids"
	"jjcore/pkg/vcserr"
)

func TestFileStore_PutGetRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), ids.Blake2b256, false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	data := []byte("hello, content-addressed world")
	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, data)
	}
}

func TestFileStore_PutIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), ids.Blake2b256, false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	data := []byte("same content")
	id1, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	id2, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("idempotence violated: %s != %s", id1, id2)
	}
}

func TestFileStore_GetMissingReturnsNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), ids.Blake2b256, false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	_, err = store.Get(ids.Blake2b256([]byte("never written")))
	if err != vcserr.NotFound {
		t.Fatalf("expected vcserr.NotFound, got %v", err)
	}
}

func TestFileStore_CompressionRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), ids.Blake2b256, true)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	data := []byte("compressible compressible compressible compressible")
	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("compressed round trip mismatch: got %q, want %q", got, data)
	}
}

func TestInstrumentedStore_TracksDedup(t *testing.T) {
	inner, err := NewFileStore(t.TempDir(), ids.Blake2b256, false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	instr := NewInstrumentedStore(inner, ids.Blake2b256, logger.WithField("test", true))

	if _, err := instr.Put([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := instr.Put([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := instr.Put([]byte("b")); err != nil {
		t.Fatal(err)
	}

	stats := instr.Stats()
	if stats.TotalPuts != 3 || stats.ActualWrites != 2 || stats.DeduplicatedPuts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
