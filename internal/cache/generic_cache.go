// Handles durable storage of cached HTTP responses
package cache

// GenericCache interface for caching operations
type GenericCache interface {
	// retrieves cached data if it exists.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores data in the cache at the specified key, replacing any previous value
	Set(key string, value []byte) error
	// lists the keys stored next to key (same directory), including key itself if present
	Siblings(key string) ([]string, error)
	// initializes the cache (e.g., creates necessary directories)
	Init() error
}
