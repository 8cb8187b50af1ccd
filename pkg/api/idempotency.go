package api

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// cachedResponse is a response replayed for a repeated Idempotency-Key.
type cachedResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
}

// IdempotencyStore caches responses of mutating requests by key.
type IdempotencyStore interface {
	Check(key string) (*cachedResponse, bool)
	Set(key string, statusCode int, headers http.Header, body []byte)
}

// MemoryIdempotencyStore is a process-local IdempotencyStore. Expired
// entries are dropped lazily on Check and by Sweep.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*cachedResponse
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*cachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().Sub(cached.CachedAt) >= s.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return cached, true
}

func (s *MemoryIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       append([]byte(nil), body...),
		CachedAt:   s.now(),
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *MemoryIdempotencyStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.entries {
		if s.now().Sub(v.CachedAt) >= s.ttl {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotency replays the first successful response for a repeated
// Idempotency-Key on POST requests. Keys are scoped to the request path.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if store == nil || r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			scoped := r.URL.Path + "\x00" + key

			if cached, ok := store.Check(scoped); ok {
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Set(k, v)
					}
				}
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Set(scoped, capture.statusCode, w.Header().Clone(), capture.body.Bytes())
			}
		})
	}
}
