package analysis

import (
	"container/list"

	"github.com/thenote/backend/pkg/audio/dsp"
)

// lruCache is a capacity-bounded most-recently-used index over analysis
// results. Not safe for concurrent use; the engine guards it.
type lruCache struct {
	capacity int
	order    *list.List // front = most recent
	index    map[string]*list.Element
}

type lruEntry struct {
	key    string
	result *dsp.Analysis
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

func cacheKey(sessionID, frameID string) string {
	return sessionID + "\x00" + frameID
}

func (c *lruCache) get(sessionID, frameID string) *dsp.Analysis {
	el, ok := c.index[cacheKey(sessionID, frameID)]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).result
}

func (c *lruCache) put(result *dsp.Analysis) {
	key := cacheKey(result.SessionID, result.SourceFrameID)
	if el, ok := c.index[key]; ok {
		el.Value.(*lruEntry).result = result
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(&lruEntry{key: key, result: result})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*lruEntry).key)
	}
}

func (c *lruCache) len() int { return c.order.Len() }
