package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

// Empty is the persisted value of "no shape".
const Empty = ""

// ParseError reports a persisted value that could not be read as a shape.
// Callers treat it as "no shape", never as fatal.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	v := e.Value
	if len(v) > 64 {
		v = v[:64] + "..."
	}
	return fmt.Sprintf("geo: cannot parse %q: %v", v, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errEmpty       = eris.New("empty value")
	errNoVertices  = eris.New("no usable vertices")
	errOutOfRange  = eris.New("coordinate out of range")
	errIncomplete  = eris.New("missing lat or lng")
	errUnsupported = eris.New("unsupported value")
)

// DecodePoint reads a point from an object with lat/lng or latitude/longitude,
// a JSON string of the same, or "lat,lng" text.
func DecodePoint(raw any) (Point, bool) {
	p, err := ParsePoint(raw)
	return p, err == nil
}

// ParsePoint is DecodePoint with the reason for rejection.
func ParsePoint(raw any) (Point, error) {
	switch v := raw.(type) {
	case nil:
		return Point{}, &ParseError{Err: errEmpty}
	case Point:
		return checkPoint(v, "")
	case *Point:
		if v == nil {
			return Point{}, &ParseError{Err: errEmpty}
		}
		return checkPoint(*v, "")
	case string:
		return parsePointText(v)
	case []byte:
		return parsePointText(string(v))
	case json.RawMessage:
		return parsePointText(string(v))
	case map[string]any:
		return pointFromMap(v)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Point{}, &ParseError{Err: errUnsupported}
	}
	return parsePointText(string(data))
}

func parsePointText(s string) (Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Point{}, &ParseError{Err: errEmpty}
	}
	if strings.HasPrefix(s, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return Point{}, &ParseError{Value: s, Err: err}
		}
		return pointFromMap(m)
	}

	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, &ParseError{Value: s, Err: errUnsupported}
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, &ParseError{Value: s, Err: err}
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, &ParseError{Value: s, Err: err}
	}
	return checkPoint(Point{Lat: lat, Lng: lng}, s)
}

func pointFromMap(m map[string]any) (Point, error) {
	lat, okLat := number(m, "lat", "latitude")
	lng, okLng := number(m, "lng", "longitude")
	if !okLat || !okLng {
		return Point{}, &ParseError{Value: fmt.Sprint(m), Err: errIncomplete}
	}
	return checkPoint(Point{Lat: lat, Lng: lng}, "")
}

// number returns the first key present as a float64 or numeric string.
func number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			return f, err == nil
		}
		return 0, false
	}
	return 0, false
}

func checkPoint(p Point, raw string) (Point, error) {
	if !p.Valid() {
		return Point{}, &ParseError{Value: raw, Err: errOutOfRange}
	}
	return p, nil
}

// DecodePolygon reads polygon vertices from a GeoJSON Polygon (or a Feature
// holding one), an array of point-like objects, or a single point, which
// yields a one-vertex polygon. A duplicated closing vertex is dropped.
func DecodePolygon(raw any) ([]Point, bool) {
	vs, err := ParsePolygon(raw)
	return vs, err == nil
}

// ParsePolygon is DecodePolygon with the reason for rejection.
func ParsePolygon(raw any) ([]Point, error) {
	switch v := raw.(type) {
	case nil:
		return nil, &ParseError{Err: errEmpty}
	case string:
		return parsePolygonText(v)
	case []byte:
		return parsePolygonText(string(v))
	case json.RawMessage:
		return parsePolygonText(string(v))
	case []Point:
		return checkVertices(v, "")
	case Point:
		return checkVertices([]Point{v}, "")
	case orb.Polygon:
		if len(v) == 0 {
			return nil, &ParseError{Err: errNoVertices}
		}
		return fromRing(v[0], "")
	case orb.Ring:
		return fromRing(v, "")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &ParseError{Err: errUnsupported}
	}
	return parsePolygonJSON(data)
}

func parsePolygonText(s string) ([]Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ParseError{Err: errEmpty}
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return parsePolygonJSON([]byte(s))
	}
	p, err := parsePointText(s)
	if err != nil {
		return nil, err
	}
	return []Point{p}, nil
}

func parsePolygonJSON(data []byte) ([]Point, error) {
	data = bytes.TrimSpace(data)
	raw := string(data)

	if len(data) > 0 && data[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, &ParseError{Value: raw, Err: err}
		}
		vs := make([]Point, 0, len(items))
		for _, item := range items {
			p, err := pointFromMap(item)
			if err != nil {
				return nil, err
			}
			vs = append(vs, p)
		}
		return checkVertices(vs, raw)
	}

	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		return nil, &ParseError{Value: raw, Err: err}
	}

	switch kind.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, &ParseError{Value: raw, Err: err}
		}
		return polygonOf(f.Geometry, raw)
	case "Polygon":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, &ParseError{Value: raw, Err: err}
		}
		return polygonOf(g.Geometry(), raw)
	case "":
		p, err := parsePointText(raw)
		if err != nil {
			return nil, err
		}
		return []Point{p}, nil
	}
	return nil, &ParseError{Value: raw, Err: errUnsupported}
}

func polygonOf(g orb.Geometry, raw string) ([]Point, error) {
	poly, ok := g.(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, &ParseError{Value: raw, Err: errUnsupported}
	}
	return fromRing(poly[0], raw)
}

func fromRing(ring orb.Ring, raw string) ([]Point, error) {
	if len(ring) > 1 && ring.Closed() {
		ring = ring[:len(ring)-1]
	}
	vs := make([]Point, len(ring))
	for i, p := range ring {
		vs[i] = FromOrb(p)
	}
	return checkVertices(vs, raw)
}

func checkVertices(vs []Point, raw string) ([]Point, error) {
	if len(vs) == 0 {
		return nil, &ParseError{Value: raw, Err: errNoVertices}
	}
	out := make([]Point, len(vs))
	for i, v := range vs {
		if !v.Valid() {
			return nil, &ParseError{Value: raw, Err: errOutOfRange}
		}
		out[i] = v
	}
	return out, nil
}

// Normalize drops a trailing vertex equal to the first one.
func Normalize(vertices []Point) []Point {
	n := len(vertices)
	if n > 1 && vertices[0] == vertices[n-1] {
		return vertices[:n-1]
	}
	return vertices
}

// Compact drops consecutive repeated vertices and a closing duplicate.
func Compact(vertices []Point) []Point {
	out := make([]Point, 0, len(vertices))
	for _, v := range vertices {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return Normalize(out)
}

// EncodePolygon returns the GeoJSON Polygon for vertices with the ring closed.
// Fewer than three distinct ring vertices encode to Empty.
func EncodePolygon(vertices []Point) string {
	vertices = Normalize(vertices)
	if len(vertices) < 3 {
		return Empty
	}
	data, err := json.Marshal(geojson.NewGeometry(orb.Polygon{Ring(vertices)}))
	if err != nil {
		return Empty
	}
	return string(data)
}

// EncodePoint returns {"lat":..,"lng":..}, or Empty for nil.
func EncodePoint(p *Point) string {
	if p == nil {
		return Empty
	}
	data, err := json.Marshal(Point{Lat: p.Lat, Lng: p.Lng})
	if err != nil {
		return Empty
	}
	return string(data)
}
