package decoder

import "sync"

type cached struct {
	ref     string
	decoder Decoder
}

// Cache holds one decoder instance per device.
//
// Instances are created on first use and kept until Evict is called or the
// device's reference changes. Failed loads are not remembered, so a fixed
// plugin file is picked up on the next message.
type Cache struct {
	loader *Loader

	mu      sync.Mutex
	entries map[string]cached
}

// NewCache returns an empty cache backed by loader.
func NewCache(loader *Loader) *Cache {
	return &Cache{
		loader:  loader,
		entries: make(map[string]cached),
	}
}

// Get returns the cached decoder for deviceID, loading ref if needed.
// The bool reports whether this call created the instance.
func (c *Cache) Get(deviceID, ref string) (Decoder, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[deviceID]; ok {
		if e.ref == ref {
			return e.decoder, false, nil
		}
		delete(c.entries, deviceID)
	}

	d, err := c.loader.Load(ref)
	if err != nil {
		return nil, false, err
	}
	c.entries[deviceID] = cached{ref: ref, decoder: d}
	return d, true, nil
}

// Evict drops the decoder for deviceID. It reports whether one was cached.
func (c *Cache) Evict(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[deviceID]
	delete(c.entries, deviceID)
	return ok
}

// Len returns the number of cached instances.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
