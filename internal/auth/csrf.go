package auth

import (
	"sync"
	"time"
)

const (
	// csrfTokenBytes is the number of random bytes used to generate
	// a CSRF token (hex-encoded to twice this length).
	csrfTokenBytes = 16

	// csrfExpiry controls how long a CSRF token remains valid.
	csrfExpiry = 10 * time.Minute

	// csrfCleanupInterval controls how often expired tokens are reaped.
	csrfCleanupInterval = 5 * time.Minute
)

// csrfEntry binds a token to the form it was rendered for.
type csrfEntry struct {
	form      string
	expiresAt time.Time
}

// CSRFStore holds single-use form tokens in memory. Tokens do not
// survive a restart; a user with a stale form simply resubmits.
type CSRFStore struct {
	mu     sync.Mutex
	tokens map[string]csrfEntry
	stopGC chan struct{}
	once   sync.Once
}

// NewCSRFStore creates an empty store and starts a background goroutine
// that periodically removes expired tokens. Call Stop to end it.
func NewCSRFStore() *CSRFStore {
	s := &CSRFStore{
		tokens: make(map[string]csrfEntry),
		stopGC: make(chan struct{}),
	}
	go s.gcLoop()

	return s
}

// Stop terminates the background cleanup goroutine.
func (s *CSRFStore) Stop() {
	s.once.Do(func() { close(s.stopGC) })
}

func (s *CSRFStore) gcLoop() {
	ticker := time.NewTicker(csrfCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopGC:
			return
		}
	}
}

func (s *CSRFStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, entry := range s.tokens {
		if now.After(entry.expiresAt) {
			delete(s.tokens, k)
		}
	}
}

// Issue creates a token for the named form.
func (s *CSRFStore) Issue(form string) string {
	token := RandomHex(csrfTokenBytes)

	s.mu.Lock()
	s.tokens[token] = csrfEntry{form: form, expiresAt: time.Now().Add(csrfExpiry)}
	s.mu.Unlock()

	return token
}

// Consume deletes token and reports whether it was issued for form and
// has not expired.
func (s *CSRFStore) Consume(token, form string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[token]
	if !ok {
		return false
	}

	delete(s.tokens, token)

	return entry.form == form && time.Now().Before(entry.expiresAt)
}

// Len returns the number of live tokens.
func (s *CSRFStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tokens)
}
