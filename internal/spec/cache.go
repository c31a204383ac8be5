package spec

import "sync"

// Cache keeps loaded specs for the process lifetime. Reads vastly outnumber
// writes; entries are only replaced by an explicit Rebuild after authoring
// changes.
type Cache struct {
	loader *Loader

	mu    sync.RWMutex
	specs map[string]*Spec
}

func NewCache(loader *Loader) *Cache {
	return &Cache{
		loader: loader,
		specs:  make(map[string]*Spec),
	}
}

// Get returns the cached spec for org/project, loading it on first use.
func (c *Cache) Get(org, project string) (*Spec, error) {
	key := org + "/" + project

	c.mu.RLock()
	s, ok := c.specs[key]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have loaded it while we waited for the lock.
	if s, ok := c.specs[key]; ok {
		return s, nil
	}
	s, err := c.loader.Load(org, project)
	if err != nil {
		return nil, err
	}
	c.specs[key] = s
	return s, nil
}

// Rebuild forces a re-parse from source. A failed rebuild leaves the previous
// entry in place so live sessions keep working on the old version.
func (c *Cache) Rebuild(org, project string) (*Spec, error) {
	s, err := c.loader.Load(org, project)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.specs[org+"/"+project] = s
	c.mu.Unlock()
	return s, nil
}
