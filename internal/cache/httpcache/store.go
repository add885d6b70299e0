package httpcache

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/iTrooz/offline-pwa-proxy/internal/cache"
)

// GenerationHeader names the generation a cached response was served from
const GenerationHeader = "X-Cache-Generation"

// MatchOptions tunes Store.Match
type MatchOptions struct {
	// IgnoreQuery accepts an entry stored for the same URL with any query string
	IgnoreQuery bool
}

// Store is the Cache Store: HTTP responses grouped in named generations
type Store struct {
	gens *cache.Generations

	mu     sync.Mutex
	caches map[string]*HTTPCache
}

// NewStore creates a store keeping its generations under root
func NewStore(root string) *Store {
	return &Store{
		gens:   cache.NewGenerations(root),
		caches: map[string]*HTTPCache{},
	}
}

// Init prepares the root folder
func (s *Store) Init() error {
	return s.gens.Init()
}

// Root returns the folder holding every generation
func (s *Store) Root() string {
	return s.gens.Root()
}

func (s *Store) open(generation string) (*HTTPCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[generation]; ok {
		return c, nil
	}
	disk, err := s.gens.Open(generation)
	if err != nil {
		return nil, err
	}
	c := New(disk)
	s.caches[generation] = c
	return c, nil
}

// Put stores a full copy of resp for request in generation. resp stays readable.
func (s *Store) Put(ctx context.Context, generation string, request *http.Request, resp *http.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := s.open(generation)
	if err != nil {
		return err
	}
	if err := c.SetReq(request, resp); err != nil {
		return fmt.Errorf("generation %s: %w", generation, err)
	}
	return nil
}

// Match returns the response stored for request in generation, or nil, nil on a miss
func (s *Store) Match(ctx context.Context, generation string, request *http.Request, opts MatchOptions) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.open(generation)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	if opts.IgnoreQuery {
		resp, err = c.GetReqIgnoreQuery(request)
	} else {
		resp, err = c.GetReq(request)
	}
	if err != nil {
		return nil, fmt.Errorf("generation %s: %w", generation, err)
	}
	if resp == nil {
		return nil, nil
	}

	resp.Header.Set(GenerationHeader, generation)
	return resp, nil
}

// PurgeExcept deletes every generation not named in keep, with all of its entries
func (s *Store) PurgeExcept(ctx context.Context, keep []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	purged, err := s.gens.PurgeExcept(keep)
	for _, name := range purged {
		delete(s.caches, name)
	}
	return purged, err
}

// Generations lists the generations currently stored
func (s *Store) Generations() ([]string, error) {
	return s.gens.List()
}
