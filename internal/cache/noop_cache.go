package cache

// NoopCache is the disk tier used when disk caching is disabled
type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Has(key Key) bool {
	return false
}

func (c *NoopCache) HasAny(id string) bool {
	return false
}

func (c *NoopCache) Read(key Key) ([]byte, error) {
	return nil, ErrNotCached
}

func (c *NoopCache) Write(key Key, data []byte) error {
	return nil
}

func (c *NoopCache) Path(key Key) string {
	return ""
}

func (c *NoopCache) Remove(id string) error {
	return nil
}

func (c *NoopCache) Clear() error {
	return nil
}
