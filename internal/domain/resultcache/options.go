package resultcache

// Option applies a configuration option to the cache.
type Option func(*inMemoryCache)

// WithMaxSize sets the maximum number of remembered results. Values below
// one keep the default.
func WithMaxSize(maxSize int) Option {
	return func(c *inMemoryCache) {
		if maxSize > 0 {
			c.maxSize = maxSize
		}
	}
}
