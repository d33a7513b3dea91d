package editor

import (
	"sync"

	"github.com/rotisserie/eris"

	farmeditor "github.com/joeblew999/plat-farmgeo/internal/editor"
	"github.com/joeblew999/plat-farmgeo/internal/geolocate"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
)

var errClosed = eris.New("editor stream closed")

type notice struct {
	Level   farmeditor.Level `json:"level"`
	Message string           `json:"notice"`
}

type locateRequest struct {
	ID                 string `json:"id"`
	Container          string `json:"container"`
	EnableHighAccuracy bool   `json:"enableHighAccuracy"`
	TimeoutMS          int64  `json:"timeout"`
	MaximumAgeMS       int64  `json:"maximumAge"`
}

// outbox collects what one mounted map has to tell its browser stream.
// Scenes are conflated to the newest version; notices and locate requests
// queue in order.
type outbox struct {
	container string
	width     int
	height    int
	relay     *geolocate.Relay

	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	version int // newest scene version accepted
	scene   *mapview.Scene
	notices []notice
	locates []locateRequest
}

func newOutbox(container string, width, height int) *outbox {
	o := &outbox{
		container: container,
		width:     width,
		height:    height,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		version:   -1,
	}
	o.relay = geolocate.NewRelay(o.requestFix)
	return o
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) publish(s mapview.Scene) {
	o.mu.Lock()
	if s.Version < o.version {
		o.mu.Unlock()
		return
	}
	o.version = s.Version
	o.scene = &s
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) Notify(level farmeditor.Level, msg string) {
	o.mu.Lock()
	o.notices = append(o.notices, notice{Level: level, Message: msg})
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) requestFix(id string, opts geolocate.Options) error {
	select {
	case <-o.done:
		return errClosed
	default:
	}
	o.mu.Lock()
	o.locates = append(o.locates, locateRequest{
		ID:                 id,
		Container:          o.container,
		EnableHighAccuracy: opts.HighAccuracy,
		TimeoutMS:          opts.Timeout.Milliseconds(),
		MaximumAgeMS:       opts.MaximumAge.Milliseconds(),
	})
	o.mu.Unlock()
	o.signal()
	return nil
}

// drain takes everything queued since the last call.
func (o *outbox) drain() (*mapview.Scene, []notice, []locateRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	scene, notices, locates := o.scene, o.notices, o.locates
	o.scene, o.notices, o.locates = nil, nil, nil
	return scene, notices, locates
}

func (o *outbox) close() {
	o.once.Do(func() { close(o.done) })
}
