package mapview

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joeblew999/plat-farmgeo/internal/metrics"
)

// LoadError reports that a vendor library could not be loaded.
type LoadError struct {
	Vendor string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s map library: %v", e.Vendor, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Fetcher checks that a library URL is reachable.
type Fetcher func(ctx context.Context, url string) error

// HTTPFetcher issues a GET and accepts any 2xx response.
func HTTPFetcher(client *http.Client) Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("GET %s: %s", url, resp.Status))
		default:
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		}
	}
}

// Loader loads each vendor library at most once per process. Concurrent
// callers share one in-flight load. A failed load is not remembered, so a
// later activation tries again.
type Loader struct {
	fetch   Fetcher
	retries uint64
	backoff func() backoff.BackOff

	group singleflight.Group

	mu     sync.Mutex
	loaded map[string]bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRetries sets how many times a failing fetch is retried.
func WithRetries(n int) LoaderOption {
	return func(l *Loader) {
		if n >= 0 {
			l.retries = uint64(n)
		}
	}
}

// WithBackOff replaces the exponential retry policy.
func WithBackOff(fn func() backoff.BackOff) LoaderOption {
	return func(l *Loader) { l.backoff = fn }
}

func NewLoader(fetch Fetcher, opts ...LoaderOption) *Loader {
	l := &Loader{
		fetch:   fetch,
		retries: 3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
		loaded: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load ensures v's library is available.
func (l *Loader) Load(ctx context.Context, v Vendor) error {
	if err := v.Validate(); err != nil {
		metrics.MapLoadFailures.WithLabelValues(v.Name()).Inc()
		return &LoadError{Vendor: v.Name(), Err: err}
	}
	url := v.ScriptURL()

	l.mu.Lock()
	done := l.loaded[url]
	l.mu.Unlock()
	if done || l.fetch == nil {
		return nil
	}

	// The shared load must outlive whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(url, func() (any, error) {
		l.mu.Lock()
		done := l.loaded[url]
		l.mu.Unlock()
		if done {
			return nil, nil
		}
		op := func() error { return l.fetch(shared, url) }
		b := backoff.WithMaxRetries(l.backoff(), l.retries)
		if err := backoff.Retry(op, b); err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.loaded[url] = true
		l.mu.Unlock()
		zap.L().Info("map library loaded", zap.String("vendor", v.Name()))
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.MapLoadFailures.WithLabelValues(v.Name()).Inc()
			zap.L().Warn("map library load failed", zap.String("vendor", v.Name()), zap.Error(res.Err))
			return &LoadError{Vendor: v.Name(), Err: eris.Wrap(res.Err, "fetch library")}
		}
		return nil
	case <-ctx.Done():
		return &LoadError{Vendor: v.Name(), Err: ctx.Err()}
	}
}

// Loaded reports whether v's library has been loaded.
func (l *Loader) Loaded(v Vendor) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[v.ScriptURL()]
}
