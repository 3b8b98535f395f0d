package memcache

import (
	"testing"

	"github.com/gyattvc/gyatt/internal/core"
)

func TestObjectCachePutGet(t *testing.T) {
	c, err := NewObjectCache(2)
	if err != nil {
		t.Fatal(err)
	}

	obj := &core.Object{Type: core.ObjectTypeBlob, Data: []byte("hi"), Hash: core.HashBytes([]byte("hi"))}
	c.Put(obj)

	got, ok := c.Get(obj.Hash)
	if !ok || got != obj {
		t.Fatal("expected to retrieve the same object pointer")
	}

	if _, ok := c.Get(core.HashBytes([]byte("missing"))); ok {
		t.Error("expected miss for unknown hash")
	}

	if rate := c.HitRate(); rate != 0.5 {
		t.Errorf("expected hit rate 0.5 after one hit and one miss, got %v", rate)
	}
}

func TestObjectCacheEviction(t *testing.T) {
	c, err := NewObjectCache(1)
	if err != nil {
		t.Fatal(err)
	}

	a := &core.Object{Hash: core.HashBytes([]byte("a"))}
	b := &core.Object{Hash: core.HashBytes([]byte("b"))}
	c.Put(a)
	c.Put(b)

	if _, ok := c.Get(a.Hash); ok {
		t.Error("expected a to be evicted once capacity is exceeded")
	}
	if _, ok := c.Get(b.Hash); !ok {
		t.Error("expected b to still be cached")
	}
}

func TestObjectCacheClear(t *testing.T) {
	c, err := NewObjectCache(4)
	if err != nil {
		t.Fatal(err)
	}
	c.Put(&core.Object{Hash: core.HashBytes([]byte("x"))})
	c.Clear()
	if c.Len() != 0 {
		t.Error("expected empty cache after Clear")
	}
}
