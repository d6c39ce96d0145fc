package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/stayhub/stayhub-core/internal/middleware"
	"github.com/stayhub/stayhub-core/internal/pkg/logger"
)

const (
	HeaderIdempotencyKey = middleware.HeaderIdempotencyKey
	HeaderReplayed       = middleware.HeaderReplayed
)

// Record is a stored response for one idempotency key.
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// IdempotencyStore persists responses by scoped key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, rec *Record) error
}

// MemoryIdempotencyStore keeps records in process until they expire.
type MemoryIdempotencyStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	rec     Record
	expires time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{ttl: ttl, now: time.Now, records: make(map[string]memoryRecord)}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	if s.now().After(m.expires) {
		delete(s.records, key)
		return nil, nil
	}
	rec := m.rec
	return &rec, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = memoryRecord{rec: *rec, expires: s.now().Add(s.ttl)}
	return nil
}

// RedisIdempotencyStore shares records across sandbox instances.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.prefix+"idem:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put keeps the first record written for a key.
func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, s.prefix+"idem:"+key, raw, s.ttl).Err()
}

// Idempotency replays the stored response for a repeated key. Keys are
// scoped per user and route, and concurrent duplicates share one execution.
// Server errors and 429s are not stored.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	var group singleflight.Group
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			scoped := middleware.GetUserID(ctx).String() + ":" + r.URL.Path + ":" + key

			v, _, shared := group.Do(scoped, func() (interface{}, error) {
				stored, err := store.Get(ctx, scoped)
				if err != nil {
					logger.LogError(ctx, err, "Idempotency lookup failed", "path", r.URL.Path)
				}
				if stored != nil {
					return replay{rec: stored, stored: true}, nil
				}

				cw := &captureWriter{header: make(http.Header), status: http.StatusOK}
				next.ServeHTTP(cw, r)
				rec := &Record{Status: cw.status, ContentType: cw.header.Get("Content-Type"), Body: cw.body.Bytes()}
				if rec.Status < http.StatusInternalServerError && rec.Status != http.StatusTooManyRequests {
					if err := store.Put(ctx, scoped, rec); err != nil {
						logger.LogError(ctx, err, "Idempotency store failed", "path", r.URL.Path)
					}
				}
				return replay{rec: rec, header: cw.header}, nil
			})

			out := v.(replay)
			if out.stored || shared {
				w.Header().Set(HeaderReplayed, "true")
				logger.LogInfo(ctx, "Replaying stored response", "idempotency_key", key, "path", r.URL.Path)
			}
			for k, vs := range out.header {
				for _, hv := range vs {
					w.Header().Add(k, hv)
				}
			}
			if out.rec.ContentType != "" {
				w.Header().Set("Content-Type", out.rec.ContentType)
			}
			w.WriteHeader(out.rec.Status)
			_, _ = w.Write(out.rec.Body)
		})
	}
}

type replay struct {
	rec    *Record
	header http.Header
	stored bool
}

type captureWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = status
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.wroteHeader = true
	return c.body.Write(p)
}
