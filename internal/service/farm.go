// Package service contains the farm record store the geo editors bind to.
package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
)

// Geo field names of a farm record.
const (
	FieldCenterPoint = "farm_center_point"
	FieldPolygon     = "farm_polygon"
)

var (
	// ErrFarmNotFound is returned for an unknown farm id.
	ErrFarmNotFound = eris.New("farm not found")
	// ErrUnknownField is returned for a field a farm does not have.
	ErrUnknownField = eris.New("unknown farm field")
)

// Farm is a farm record.
type Farm struct {
	ID          string    `json:"id,omitempty" doc:"Unique farm identifier" readOnly:"true"`
	Name        string    `json:"name" required:"true" minLength:"1" maxLength:"200" doc:"Farm name" example:"Sebeta plot 4"`
	Farmer      string    `json:"farmer,omitempty" maxLength:"200" doc:"Farmer name" example:"Abebe Kebede"`
	CenterPoint string    `json:"farm_center_point,omitempty" doc:"Center point as {lat,lng} JSON" example:"{\"lat\":9.010793,\"lng\":38.761252}"`
	Polygon     string    `json:"farm_polygon,omitempty" doc:"Boundary as a GeoJSON Polygon"`
	AreaHa      float64   `json:"area_ha" readOnly:"true" doc:"Boundary area in hectares"`
	UpdatedAt   time.Time `json:"updated_at" readOnly:"true" doc:"Last change"`
}

// FarmPoint is one farm on the workspace overview map.
type FarmPoint struct {
	ID    string    `json:"id" doc:"Farm ID"`
	Name  string    `json:"name" doc:"Farm name"`
	Point geo.Point `json:"point" doc:"Farm center point"`
}

// FarmService stores farms in DuckDB. Field changes are published on
// Fields and record changes on Events.
type FarmService struct {
	db     *sql.DB
	Fields *Bus[FieldEvent]
	Events *Bus[Event]
	log    *zap.Logger
}

// NewFarmService creates a farm service on a migrated database.
func NewFarmService(db *sql.DB) *FarmService {
	return &FarmService{
		db:     db,
		Fields: NewBus[FieldEvent](),
		Events: NewBus[Event](),
		log:    zap.L().With(zap.String("service", "farms")),
	}
}

const farmColumns = `id, name, farmer, farm_center_point, farm_polygon, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFarm(row scanner) (Farm, error) {
	var f Farm
	if err := row.Scan(&f.ID, &f.Name, &f.Farmer, &f.CenterPoint, &f.Polygon, &f.UpdatedAt); err != nil {
		return Farm{}, err
	}
	if vs, ok := geo.DecodePolygon(f.Polygon); ok {
		f.AreaHa = geo.AreaHectares(vs)
	}
	return f, nil
}

// List returns all farms ordered by name.
func (s *FarmService) List(ctx context.Context) ([]Farm, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+farmColumns+` FROM farms ORDER BY name, id`)
	if err != nil {
		return nil, eris.Wrap(err, "list farms")
	}
	defer rows.Close()

	farms := []Farm{}
	for rows.Next() {
		f, err := scanFarm(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan farm")
		}
		farms = append(farms, f)
	}
	return farms, eris.Wrap(rows.Err(), "list farms")
}

// Get returns a farm by ID.
func (s *FarmService) Get(ctx context.Context, id string) (Farm, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+farmColumns+` FROM farms WHERE id = ?`, id)
	f, err := scanFarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Farm{}, eris.Wrapf(ErrFarmNotFound, "farm %q", id)
	}
	if err != nil {
		return Farm{}, eris.Wrapf(err, "get farm %q", id)
	}
	return f, nil
}

// Create adds a farm. Geo fields are stored in canonical form.
func (s *FarmService) Create(ctx context.Context, f Farm) (Farm, error) {
	if strings.TrimSpace(f.Name) == "" {
		return Farm{}, eris.New("farm name is required")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CenterPoint = CanonicalField(FieldCenterPoint, f.CenterPoint)
	f.Polygon = CanonicalField(FieldPolygon, f.Polygon)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO farms (id, name, farmer, farm_center_point, farm_polygon) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Farmer, f.CenterPoint, f.Polygon)
	if err != nil {
		return Farm{}, eris.Wrapf(err, "create farm %q", f.Name)
	}
	s.Events.Publish(Event{Resource: "farms", Action: "created", ID: f.ID})
	return s.Get(ctx, f.ID)
}

// Update replaces a farm. Changed geo fields are published as field events.
func (s *FarmService) Update(ctx context.Context, id string, f Farm) (Farm, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return Farm{}, err
	}
	if strings.TrimSpace(f.Name) == "" {
		return Farm{}, eris.New("farm name is required")
	}
	f.CenterPoint = CanonicalField(FieldCenterPoint, f.CenterPoint)
	f.Polygon = CanonicalField(FieldPolygon, f.Polygon)

	_, err = s.db.ExecContext(ctx,
		`UPDATE farms SET name = ?, farmer = ?, farm_center_point = ?, farm_polygon = ?, updated_at = current_timestamp WHERE id = ?`,
		f.Name, f.Farmer, f.CenterPoint, f.Polygon, id)
	if err != nil {
		return Farm{}, eris.Wrapf(err, "update farm %q", id)
	}

	if prev.CenterPoint != f.CenterPoint {
		s.Fields.Publish(FieldEvent{FarmID: id, Field: FieldCenterPoint, Value: f.CenterPoint})
	}
	if prev.Polygon != f.Polygon {
		s.Fields.Publish(FieldEvent{FarmID: id, Field: FieldPolygon, Value: f.Polygon})
	}
	s.Events.Publish(Event{Resource: "farms", Action: "updated", ID: id})
	return s.Get(ctx, id)
}

// Delete removes a farm.
func (s *FarmService) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM farms WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "delete farm %q", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return eris.Wrapf(ErrFarmNotFound, "farm %q", id)
	}
	s.Events.Publish(Event{Resource: "farms", Action: "deleted", ID: id})
	return nil
}

func columnFor(field string) (string, error) {
	switch field {
	case FieldCenterPoint, FieldPolygon:
		return field, nil
	}
	return "", eris.Wrapf(ErrUnknownField, "field %q", field)
}

// GetField returns the persisted value of a geo field.
func (s *FarmService) GetField(ctx context.Context, id, field string) (string, error) {
	col, err := columnFor(field)
	if err != nil {
		return "", err
	}
	var v string
	err = s.db.QueryRowContext(ctx, `SELECT `+col+` FROM farms WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrFarmNotFound, "farm %q", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "get %s of farm %q", field, id)
	}
	return v, nil
}

// SetField stores value in a geo field and publishes the change.
func (s *FarmService) SetField(ctx context.Context, id, field, value string) error {
	col, err := columnFor(field)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE farms SET `+col+` = ?, updated_at = current_timestamp WHERE id = ?`, value, id)
	if err != nil {
		return eris.Wrapf(err, "set %s of farm %q", field, id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return eris.Wrapf(ErrFarmNotFound, "farm %q", id)
	}
	s.log.Debug("field set", zap.String("farm", id), zap.String("field", field))
	s.Fields.Publish(FieldEvent{FarmID: id, Field: field, Value: value})
	s.Events.Publish(Event{Resource: "farms", Action: "updated", ID: id})
	return nil
}

// CenterPoints returns every farm with a usable center point.
func (s *FarmService) CenterPoints(ctx context.Context) ([]FarmPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, farm_center_point FROM farms WHERE farm_center_point <> '' ORDER BY name, id`)
	if err != nil {
		return nil, eris.Wrap(err, "list center points")
	}
	defer rows.Close()

	points := []FarmPoint{}
	for rows.Next() {
		var id, name, raw string
		if err := rows.Scan(&id, &name, &raw); err != nil {
			return nil, eris.Wrap(err, "scan center point")
		}
		p, ok := geo.DecodePoint(raw)
		if !ok {
			s.log.Debug("skipping unreadable center point", zap.String("farm", id))
			continue
		}
		points = append(points, FarmPoint{ID: id, Name: name, Point: p})
	}
	return points, eris.Wrap(rows.Err(), "list center points")
}

// CanonicalField normalizes a geo value for storage. Unreadable values are
// kept as given.
func CanonicalField(field, value string) string {
	if strings.TrimSpace(value) == "" {
		return geo.Empty
	}
	switch field {
	case FieldCenterPoint:
		if p, ok := geo.DecodePoint(value); ok {
			return geo.EncodePoint(&p)
		}
	case FieldPolygon:
		if vs, ok := geo.DecodePolygon(value); ok {
			if enc := geo.EncodePolygon(vs); enc != geo.Empty {
				return enc
			}
		}
	}
	return value
}

// Document exposes one farm as a field holder for the editors.
func (s *FarmService) Document(id string) *FarmDocument {
	return &FarmDocument{svc: s, id: id}
}

// FarmDocument is a farm seen through its geo fields.
type FarmDocument struct {
	svc *FarmService
	id  string
}

func (d *FarmDocument) ID() string { return d.id }

func (d *FarmDocument) Get(ctx context.Context, field string) (string, error) {
	return d.svc.GetField(ctx, d.id, field)
}

func (d *FarmDocument) Set(ctx context.Context, field, value string) error {
	return d.svc.SetField(ctx, d.id, field, value)
}
