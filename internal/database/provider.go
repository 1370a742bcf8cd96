package database

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Provider is the approved entrypoint for obtaining the store handle. It is
// created once by main and handed to every collaborator; the first Get opens
// the store and every later Get returns that same handle.
type Provider struct {
	path string

	once sync.Once
	db   *DB
	err  error

	mu     sync.Mutex
	closed bool
}

// NewProvider creates a provider for the store at path. Nothing is opened
// until the first call to Get.
func NewProvider(path string) *Provider {
	if path == "" {
		path = DefaultFileName
	}
	return &Provider{path: path}
}

// Path returns the store file path
func (p *Provider) Path() string {
	return p.path
}

// Get returns the shared handle, opening and migrating the store on first use.
// A failed open is remembered and returned to every caller.
func (p *Provider) Get() (*DB, error) {
	p.once.Do(func() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			p.err = ErrInit
			return
		}

		p.db, p.err = Open(p.path)
		if p.err != nil {
			log.Error().Err(p.err).Str("path", p.path).Msg("Failed to open database")
			return
		}
		log.Info().Str("path", p.path).Msg("Database opened")
	})
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: provider for %s is closed", ErrInit, p.path)
	}
	return p.db, nil
}

// Close closes the handle if it was opened. Later calls to Get fail.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Make sure a Get racing with Close cannot open a fresh handle afterwards
	p.once.Do(func() { p.err = ErrInit })

	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
