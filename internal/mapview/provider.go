package mapview

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

// Config selects and configures the active vendor.
type Config struct {
	Vendor      string        `mapstructure:"vendor" yaml:"vendor"`
	Google      GoogleConfig  `mapstructure:"google" yaml:"google"`
	Leaflet     LeafletConfig `mapstructure:"leaflet" yaml:"leaflet"`
	LoadRetries int           `mapstructure:"load_retries" yaml:"load_retries"`
}

// ErrUnknownVendor is returned for a vendor name New does not know.
var ErrUnknownVendor = eris.New("unknown map vendor")

// VendorFor returns the vendor cfg selects. Leaflet is the default.
func VendorFor(cfg Config) (Vendor, error) {
	switch cfg.Vendor {
	case VendorGoogle:
		return NewGoogle(cfg.Google), nil
	case VendorLeaflet, "":
		lc := cfg.Leaflet
		def := DefaultLeafletConfig()
		if lc.ScriptURL == "" {
			lc.ScriptURL = def.ScriptURL
		}
		if lc.StyleURL == "" {
			lc.StyleURL = def.StyleURL
		}
		if lc.TileURL == "" {
			lc.TileURL = def.TileURL
			lc.Attribution = def.Attribution
		}
		return NewLeaflet(lc), nil
	default:
		return nil, eris.Wrapf(ErrUnknownVendor, "vendor %q", cfg.Vendor)
	}
}

// New returns the Provider for cfg's vendor.
func New(cfg Config, loader *Loader) (*VendorProvider, error) {
	v, err := VendorFor(cfg)
	if err != nil {
		return nil, err
	}
	return NewProvider(v, loader), nil
}

// VendorProvider mounts Surfaces for one vendor.
type VendorProvider struct {
	vendor Vendor
	loader *Loader

	mu      sync.Mutex
	mounted map[string]Map
}

func NewProvider(v Vendor, loader *Loader) *VendorProvider {
	return &VendorProvider{
		vendor:  v,
		loader:  loader,
		mounted: make(map[string]Map),
	}
}

func (p *VendorProvider) Name() string { return p.vendor.Name() }

// Vendor returns the active vendor.
func (p *VendorProvider) Vendor() Vendor { return p.vendor }

func (p *VendorProvider) Initialize(ctx context.Context, c Container) (Map, error) {
	if c.ID == "" {
		return nil, eris.New("map container has no id")
	}
	if p.loader != nil {
		if err := p.loader.Load(ctx, p.vendor); err != nil {
			return nil, err
		}
	}

	m := NewSurface(p.vendor, c)

	p.mu.Lock()
	for id, old := range p.mounted {
		if old.Disposed() {
			delete(p.mounted, id)
		}
	}
	prev := p.mounted[c.ID]
	p.mounted[c.ID] = m
	p.mu.Unlock()

	// One live map per container.
	if prev != nil {
		prev.Dispose()
	}
	return m, nil
}

// Mounted returns the live map on container id, if any.
func (p *VendorProvider) Mounted(id string) (Map, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.mounted[id]
	if ok && m.Disposed() {
		delete(p.mounted, id)
		return nil, false
	}
	return m, ok
}
