package cache

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestMaskCachePutGetRoundTrip(t *testing.T) {
	c, err := NewMaskCache(filepath.Join(t.TempDir(), "masks.db"))
	if err != nil {
		t.Fatalf("new mask cache: %v", err)
	}
	defer c.Close()

	mask := make([]byte, 44)
	for i := range mask {
		mask[i] = byte(i + 1)
	}
	hash := HashHeader([]byte("probe-header-bytes"))

	if _, ok := c.Get(hash); ok {
		t.Fatal("unexpected hit before Put")
	}
	if err := c.Put(hash, mask); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := c.Get(hash)
	if !ok {
		t.Fatal("miss after Put")
	}
	if !bytes.Equal(got, mask) {
		t.Fatalf("got %x, want %x", got, mask)
	}
}

func TestMaskCachePutOverwrites(t *testing.T) {
	c, err := NewMaskCache(filepath.Join(t.TempDir(), "masks.db"))
	if err != nil {
		t.Fatalf("new mask cache: %v", err)
	}
	defer c.Close()

	hash := HashHeader([]byte("same-probe"))
	if err := c.Put(hash, []byte("old-mask-value")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := c.Put(hash, []byte("new-mask-value")); err != nil {
		t.Fatalf("second put: %v", err)
	}
	got, ok := c.Get(hash)
	if !ok {
		t.Fatal("miss after overwrite")
	}
	if string(got) != "new-mask-value" {
		t.Fatalf("got %q, want the overwritten value", got)
	}
}

func TestHashHeaderDistinguishesInputs(t *testing.T) {
	if HashHeader([]byte("a")) != HashHeader([]byte("a")) {
		t.Fatal("HashHeader is not deterministic")
	}
	if HashHeader([]byte("a")) == HashHeader([]byte("b")) {
		t.Fatal("HashHeader collided on distinct inputs")
	}
}
