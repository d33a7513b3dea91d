// Package binding connects geo field editors to the documents that own the
// field values.
//
// Fields are registered explicitly with their capability. A Binding keeps one
// editor session per (document, field), writes committed editor values to
// the document and pushes external changes into the session without writing
// them back.
package binding

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/editor"
	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/metrics"
	"github.com/joeblew999/plat-farmgeo/internal/service"
)

// Document is a record holding geo field values.
type Document interface {
	ID() string
	Get(ctx context.Context, field string) (string, error)
	Set(ctx context.Context, field, value string) error
}

// Field declares a geo field.
type Field struct {
	Name string
	Kind editor.Kind
	// Fallback names a point field that centers an empty polygon map.
	Fallback string
}

// Key identifies one session.
type Key struct {
	DocID string
	Field string
}

// ErrNotGeoField is returned for a field that was never registered.
var ErrNotGeoField = eris.New("field is not a registered geo field")

// EnvFunc builds the editor environment for a session. The binding fills in
// Writer and Fallback.
type EnvFunc func(key Key, f Field) editor.Env

// Binding owns the session registry.
type Binding struct {
	env EnvFunc
	log *zap.Logger

	mu       sync.Mutex
	fields   map[string]Field
	sessions map[Key]editor.Editor
}

func New(env EnvFunc) *Binding {
	return &Binding{
		env:      env,
		log:      zap.L().With(zap.String("component", "binding")),
		fields:   make(map[string]Field),
		sessions: make(map[Key]editor.Editor),
	}
}

// Register declares field as a geo field rendered by its editor.
func (b *Binding) Register(f Field) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fields[f.Name] = f
}

// Field returns a registered field.
func (b *Binding) Field(name string) (Field, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fields[name]
	return f, ok
}

// Mount renders field of doc: it disposes any session already on that key,
// then decodes the current value and activates a new editor.
func (b *Binding) Mount(ctx context.Context, doc Document, field string) (editor.Editor, error) {
	f, ok := b.Field(field)
	if !ok {
		return nil, eris.Wrapf(ErrNotGeoField, "field %q", field)
	}
	key := Key{DocID: doc.ID(), Field: field}

	value, err := doc.Get(ctx, field)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", field)
	}

	env := b.env(key, f)
	env.Writer = &writer{doc: doc, field: field, kind: f.Kind, log: b.log}
	if f.Fallback != "" {
		if raw, err := doc.Get(ctx, f.Fallback); err == nil {
			if p, ok := geo.DecodePoint(raw); ok {
				env.Fallback = &p
			}
		}
	}

	var ed editor.Editor
	switch f.Kind {
	case editor.KindPoint:
		ed = editor.NewPointEditor(env)
	case editor.KindPolygon:
		ed = editor.NewPolygonEditor(env)
	default:
		return nil, eris.Errorf("field %q has unknown kind %q", field, f.Kind)
	}

	b.mu.Lock()
	prev := b.sessions[key]
	b.sessions[key] = ed
	b.mu.Unlock()
	if prev != nil {
		prev.Dispose()
	}

	if err := ed.Activate(ctx, value); err != nil {
		b.Release(key, ed)
		ed.Dispose()
		return nil, err
	}
	// Catch a change that landed while the map was loading.
	if now, err := doc.Get(ctx, field); err == nil && now != value {
		ed.Apply(ctx, now)
	}
	b.log.Debug("mounted", zap.String("doc", key.DocID), zap.String("field", field))
	return ed, nil
}

// Session returns the live session for key.
func (b *Binding) Session(key Key) (editor.Editor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ed, ok := b.sessions[key]
	return ed, ok
}

// Changed pushes an external value into the session for (docID, field). It
// does nothing for unregistered fields or when no session exists.
func (b *Binding) Changed(ctx context.Context, docID, field, value string) {
	b.mu.Lock()
	_, geoField := b.fields[field]
	ed := b.sessions[Key{DocID: docID, Field: field}]
	b.mu.Unlock()
	if !geoField || ed == nil {
		return
	}
	ed.Apply(ctx, value)
}

// Watch feeds field changes into Changed until ctx ends. The feed keeps
// the latest value per field, so a session blocked on a long gesture still
// ends up showing the stored value.
func (b *Binding) Watch(ctx context.Context, feed *service.FieldFeed) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-feed.Ready():
			for _, ev := range feed.Take() {
				b.Changed(ctx, ev.FarmID, ev.Field, ev.Value)
			}
		}
	}
}

// Release drops key from the registry if ed is still its session. It does
// not dispose ed.
func (b *Binding) Release(key Key, ed editor.Editor) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[key] != ed {
		return false
	}
	delete(b.sessions, key)
	return true
}

// Unmount disposes every session of docID.
func (b *Binding) Unmount(docID string) {
	b.mu.Lock()
	var eds []editor.Editor
	for k, ed := range b.sessions {
		if k.DocID == docID {
			eds = append(eds, ed)
			delete(b.sessions, k)
		}
	}
	b.mu.Unlock()
	for _, ed := range eds {
		ed.Dispose()
	}
}

// Close disposes every session.
func (b *Binding) Close() {
	b.mu.Lock()
	eds := b.sessions
	b.sessions = make(map[Key]editor.Editor)
	b.mu.Unlock()
	for _, ed := range eds {
		ed.Dispose()
	}
}

// writer sets the field unless the document already holds the value.
type writer struct {
	doc   Document
	field string
	kind  editor.Kind
	log   *zap.Logger
}

func (w *writer) Write(ctx context.Context, value string) error {
	current, err := w.doc.Get(ctx, w.field)
	if err == nil && current == value {
		metrics.SuppressedWrites.WithLabelValues(string(w.kind)).Inc()
		return nil
	}
	if err := w.doc.Set(ctx, w.field, value); err != nil {
		return eris.Wrapf(err, "write %s", w.field)
	}
	w.log.Debug("field written", zap.String("doc", w.doc.ID()), zap.String("field", w.field))
	return nil
}
