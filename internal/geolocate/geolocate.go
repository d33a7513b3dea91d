// Package geolocate requests the device position. The browser owns the
// sensor, so a Relay forwards each request to the page and waits for the
// page to post the fix (or the failure) back.
package geolocate

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/metrics"
)

// Options mirror the browser PositionOptions.
type Options struct {
	HighAccuracy bool          `json:"enableHighAccuracy" mapstructure:"high_accuracy" yaml:"high_accuracy"`
	Timeout      time.Duration `json:"-" mapstructure:"timeout" yaml:"timeout"`
	MaximumAge   time.Duration `json:"-" mapstructure:"maximum_age" yaml:"maximum_age"`
}

// DefaultOptions asks for a high accuracy fix within 10s, accepting one up
// to 15s old.
func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: 15 * time.Second}
}

// Fix is a device position.
type Fix struct {
	geo.Point
	Accuracy float64   `json:"accuracy"` // meters
	At       time.Time `json:"at"`
}

// Code classifies a failed request, matching GeolocationPositionError.
type Code int

const (
	PermissionDenied Code = 1
	Unavailable      Code = 2
	Timeout          Code = 3
	Unsupported      Code = 4
)

func (c Code) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case Unavailable:
		return "position_unavailable"
	case Timeout:
		return "timeout"
	case Unsupported:
		return "unsupported"
	default:
		return "code_" + strconv.Itoa(int(c))
	}
}

// Error is a failed location request.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geolocation: %s", e.Code)
	}
	return fmt.Sprintf("geolocation: %s: %s", e.Code, e.Message)
}

// Locator returns the current device position.
type Locator interface {
	Locate(ctx context.Context, opts Options) (Fix, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context, opts Options) (Fix, error)

func (f LocatorFunc) Locate(ctx context.Context, opts Options) (Fix, error) {
	return f(ctx, opts)
}

// RequestFunc asks the page to read its position for request id.
type RequestFunc func(id string, opts Options) error

// Relay is a Locator backed by the page. Deliver and Fail resolve the
// pending request with the same id.
type Relay struct {
	request RequestFunc
	now     func() time.Time

	mu      sync.Mutex
	seq     int
	pending map[string]chan result
	last    *Fix
}

type result struct {
	fix Fix
	err error
}

// NewRelay returns a Relay. A nil request means the page has no
// geolocation support.
func NewRelay(request RequestFunc) *Relay {
	return &Relay{
		request: request,
		now:     time.Now,
		pending: make(map[string]chan result),
	}
}

func (r *Relay) Locate(ctx context.Context, opts Options) (Fix, error) {
	if r.request == nil {
		return Fix{}, r.fail(&Error{Code: Unsupported, Message: "geolocation is not available"})
	}

	r.mu.Lock()
	if r.last != nil && opts.MaximumAge > 0 && r.now().Sub(r.last.At) <= opts.MaximumAge {
		fix := *r.last
		r.mu.Unlock()
		return fix, nil
	}
	r.seq++
	id := "loc-" + strconv.Itoa(r.seq)
	ch := make(chan result, 1)
	r.pending[id] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	if err := r.request(id, opts); err != nil {
		return Fix{}, r.fail(&Error{Code: Unavailable, Message: err.Error()})
	}

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return Fix{}, r.fail(res.err)
		}
		return res.fix, nil
	case <-timeout:
		return Fix{}, r.fail(&Error{Code: Timeout, Message: "no position within " + opts.Timeout.String()})
	case <-ctx.Done():
		return Fix{}, ctx.Err()
	}
}

// Deliver resolves request id with fix. It reports false when no such
// request is waiting.
func (r *Relay) Deliver(id string, fix Fix) bool {
	if fix.At.IsZero() {
		fix.At = r.now()
	}
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
		f := fix
		r.last = &f
	}
	r.mu.Unlock()
	if ok {
		ch <- result{fix: fix}
	}
	return ok
}

// Fail resolves request id with an error.
func (r *Relay) Fail(id string, code Code, msg string) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if ok {
		ch <- result{err: &Error{Code: code, Message: msg}}
	}
	return ok
}

// Pending reports how many requests are waiting.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Relay) fail(err error) error {
	if ge, ok := err.(*Error); ok {
		metrics.GeolocationFailures.WithLabelValues(ge.Code.String()).Inc()
		zap.L().Debug("geolocation failed", zap.Stringer("code", ge.Code), zap.String("message", ge.Message))
	}
	return err
}
