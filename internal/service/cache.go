// cache.go — LRU-кэш контрольных точек исходных файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/wfm-allocator/internal/storage/linescan"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fa_slice_index_cache_hits_total",
		Help: "Общее количество попаданий в кэш контрольных точек.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fa_slice_index_cache_misses_total",
		Help: "Общее количество промахов кэша контрольных точек.",
	})
)

// IndexCache — кэш контрольных точек (номер строки → смещение) по ключу
// исходного файла. Ключ меняется при замене файла, поэтому инвалидация
// не нужна: старые записи вытесняются по LRU или TTL.
type IndexCache struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *linescan.Index]
}

// NewIndexCache создаёт кэш. maxSize — максимальное количество файлов,
// ttl — время жизни записи после последнего обновления.
func NewIndexCache(maxSize int, ttl time.Duration) *IndexCache {
	return &IndexCache{
		cache: expirable.NewLRU[string, *linescan.Index](maxSize, nil, ttl),
	}
}

// Get возвращает индекс файла. nil-кэш всегда промахивается.
func (c *IndexCache) Get(key string) (*linescan.Index, bool) {
	if c == nil {
		return nil, false
	}
	ix, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
		return ix, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set заменяет индекс файла.
func (c *IndexCache) Set(key string, ix *linescan.Index) {
	if c == nil || ix == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, ix)
}

// Merge добавляет контрольные точки к индексу файла.
func (c *IndexCache) Merge(key string, headerRows int, points []linescan.Checkpoint) {
	if c == nil || len(points) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, _ := c.cache.Peek(key)
	c.cache.Add(key, cur.Merge(headerRows, points))
}

// Len возвращает количество файлов в кэше.
func (c *IndexCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
