package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stayhub/stayhub-core/internal/pkg/logger"
)

const (
	loadTimeout   = 30 * time.Second
	maxScriptSize = 4 << 20
)

// Script describes a loaded checkout script.
type Script struct {
	URL      string
	SHA256   string
	Size     int
	LoadedAt time.Time
}

// Loader makes the checkout script available.
type Loader interface {
	Load(ctx context.Context) (*Script, error)
}

// ScriptLoader fetches the checkout script once per process. Concurrent
// callers share one in-flight fetch; a failed fetch is not cached.
type ScriptLoader struct {
	url  string
	http *http.Client
	log  zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	script  *Script
	fetches int
}

func NewScriptLoader(url string, hc *http.Client) *ScriptLoader {
	if hc == nil {
		hc = &http.Client{Timeout: loadTimeout}
	}
	return &ScriptLoader{url: url, http: hc, log: logger.Component("gateway")}
}

func (l *ScriptLoader) Load(ctx context.Context) (*Script, error) {
	if s := l.loaded(); s != nil {
		return s, nil
	}

	// The fetch outlives any single caller so one cancelled caller does not
	// fail the others waiting on it.
	ch := l.group.DoChan(l.url, func() (interface{}, error) {
		if s := l.loaded(); s != nil {
			return s, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		s, err := l.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.script = s
		l.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrLoad, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Script), nil
	}
}

func (l *ScriptLoader) loaded() *Script {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.script
}

func (l *ScriptLoader) fetch(ctx context.Context) (*Script, error) {
	l.mu.Lock()
	l.fetches++
	l.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		l.log.Error().Err(err).Str("url", l.url).Msg("Checkout script load failed")
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.log.Error().Int("status_code", resp.StatusCode).Str("url", l.url).Msg("Checkout script load failed")
		return nil, fmt.Errorf("%w: status=%d", ErrLoad, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty script", ErrLoad)
	}

	sum := sha256.Sum256(body)
	s := &Script{
		URL:      l.url,
		SHA256:   hex.EncodeToString(sum[:]),
		Size:     len(body),
		LoadedAt: time.Now(),
	}
	l.log.Info().Str("url", l.url).Int("size", s.Size).Msg("Checkout script loaded")
	return s, nil
}
