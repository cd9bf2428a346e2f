package service

import (
	"testing"
	"time"

	"github.com/bigkaa/wfm-allocator/internal/storage/linescan"
)

// TestIndexCache_GetSet проверяет базовые операции Get/Set.
func TestIndexCache_GetSet(t *testing.T) {
	cache := NewIndexCache(10, 5*time.Minute)

	if _, ok := cache.Get("sources/p1/a.csv"); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	cache.Set("sources/p1/a.csv", linescan.NewIndex(1, []linescan.Checkpoint{{Row: 1, Offset: 8}}))
	ix, ok := cache.Get("sources/p1/a.csv")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if ix.Len() != 1 {
		t.Errorf("Len = %d, ожидалось 1", ix.Len())
	}
}

// TestIndexCache_Merge проверяет объединение точек с существующим индексом.
func TestIndexCache_Merge(t *testing.T) {
	cache := NewIndexCache(10, 5*time.Minute)

	cache.Merge("k", 1, []linescan.Checkpoint{{Row: 11, Offset: 100}})
	cache.Merge("k", 1, []linescan.Checkpoint{{Row: 1, Offset: 8}, {Row: 11, Offset: 100}})

	ix, ok := cache.Get("k")
	if !ok {
		t.Fatal("ожидался cache hit после Merge")
	}
	if ix.Len() != 2 {
		t.Fatalf("Len = %d, ожидалось 2 (дубликаты отбрасываются)", ix.Len())
	}
	cp, ok := ix.Nearest(15)
	if !ok || cp.Row != 11 || cp.Offset != 100 {
		t.Errorf("Nearest(15) = %+v, %v", cp, ok)
	}
}

// TestIndexCache_MergeEmpty проверяет, что пустой набор точек не создаёт запись.
func TestIndexCache_MergeEmpty(t *testing.T) {
	cache := NewIndexCache(10, 5*time.Minute)
	cache.Merge("k", 1, nil)
	if cache.Len() != 0 {
		t.Errorf("Len = %d, ожидалось 0", cache.Len())
	}
}

// TestIndexCache_Eviction проверяет вытеснение по LRU при превышении размера.
func TestIndexCache_Eviction(t *testing.T) {
	cache := NewIndexCache(2, 5*time.Minute)
	ix := linescan.NewIndex(0, []linescan.Checkpoint{{Row: 1, Offset: 0}})

	cache.Set("a", ix)
	cache.Set("b", ix)
	cache.Set("c", ix)

	if _, ok := cache.Get("a"); ok {
		t.Error("ожидалось вытеснение самой старой записи")
	}
	if cache.Len() != 2 {
		t.Errorf("Len = %d, ожидалось 2", cache.Len())
	}
}

// TestIndexCache_Nil проверяет, что nil-кэш безопасен.
func TestIndexCache_Nil(t *testing.T) {
	var cache *IndexCache
	cache.Set("k", linescan.NewIndex(0, nil))
	cache.Merge("k", 0, []linescan.Checkpoint{{Row: 1}})
	if _, ok := cache.Get("k"); ok {
		t.Error("nil-кэш не должен возвращать записи")
	}
}
