package storage

import (
	"database/sql/driver"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"modernc.org/sqlite"
)

var (
	spatialOnce sync.Once
	spatialErr  error
)

// registerSpatialFunctions installs ST_Contains and ST_Within into the sqlite
// driver. Registration is process-wide and happens once.
func registerSpatialFunctions() {
	spatialOnce.Do(func() {
		spatialErr = sqlite.RegisterDeterministicScalarFunction("ST_Contains", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return containsValue(args[0], args[1]), nil
			})
		if spatialErr != nil {
			return
		}
		spatialErr = sqlite.RegisterDeterministicScalarFunction("ST_Within", 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return containsValue(args[1], args[0]), nil
			})
	})
}

// containsValue evaluates the predicate for SQL. NULL or unparsable input
// yields NULL, which never satisfies a WHERE clause.
func containsValue(container, contained driver.Value) driver.Value {
	if container == nil || contained == nil {
		return nil
	}
	outer, err := ParseGeometry(container)
	if err != nil {
		return nil
	}
	inner, err := ParseGeometry(contained)
	if err != nil {
		return nil
	}
	if Contains(outer, inner) {
		return int64(1)
	}
	return int64(0)
}

// ParseGeometry decodes WKT, EWKT (SRID prefix) or WKB input.
func ParseGeometry(v any) (orb.Geometry, error) {
	switch t := v.(type) {
	case orb.Geometry:
		return t, nil
	case string:
		return parseWKT(t)
	case []byte:
		if g, err := wkb.Unmarshal(t); err == nil {
			return g, nil
		}
		return parseWKT(string(t))
	default:
		return nil, errors.Errorf("unsupported geometry value %T", v)
	}
}

func parseWKT(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToUpper(s), "SRID=") {
		if i := strings.IndexByte(s, ';'); i >= 0 {
			s = s[i+1:]
		}
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "parse wkt")
	}
	return g, nil
}

// Contains reports whether inner lies inside outer: every vertex of inner is
// inside outer and no edge of inner crosses a boundary ring of outer. outer
// must be areal (polygon, multipolygon, bound or ring); other shapes contain
// nothing. Edges that only touch the boundary at a vertex or run along it
// are not treated as crossings.
func Contains(outer, inner orb.Geometry) bool {
	if outer == nil || inner == nil {
		return false
	}
	if !boundCovers(outer.Bound(), inner.Bound()) {
		return false
	}
	var inside func(orb.Point) bool
	switch o := outer.(type) {
	case orb.Polygon:
		inside = func(p orb.Point) bool { return planar.PolygonContains(o, p) }
	case orb.MultiPolygon:
		inside = func(p orb.Point) bool { return planar.MultiPolygonContains(o, p) }
	case orb.Ring:
		inside = func(p orb.Point) bool { return planar.RingContains(o, p) }
	case orb.Bound:
		inside = o.Contains
	default:
		return false
	}
	pts := vertices(inner)
	if len(pts) == 0 {
		return false
	}
	for _, p := range pts {
		if !inside(p) {
			return false
		}
	}

	boundary := edges(outer)
	for _, e := range edges(inner) {
		for _, b := range boundary {
			if crosses(e, b) {
				return false
			}
		}
	}
	return true
}

type segment [2]orb.Point

// edges lists the segments of every line and ring in g. Points have none.
func edges(g orb.Geometry) []segment {
	var out []segment
	addPath := func(path []orb.Point) {
		for i := 1; i < len(path); i++ {
			out = append(out, segment{path[i-1], path[i]})
		}
	}
	switch t := g.(type) {
	case orb.LineString:
		addPath(t)
	case orb.Ring:
		addPath(t)
	case orb.MultiLineString:
		for _, ls := range t {
			addPath(ls)
		}
	case orb.Polygon:
		for _, r := range t {
			addPath(r)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			out = append(out, edges(p)...)
		}
	case orb.Collection:
		for _, c := range t {
			out = append(out, edges(c)...)
		}
	case orb.Bound:
		addPath(t.ToRing())
	}
	return out
}

// crosses reports whether a and b intersect at a single point interior to
// both segments.
func crosses(a, b segment) bool {
	d1 := orientation(b[0], b[1], a[0])
	d2 := orientation(b[0], b[1], a[1])
	d3 := orientation(a[0], a[1], b[0])
	d4 := orientation(a[0], a[1], b[1])
	return d1*d2 < 0 && d3*d4 < 0
}

// orientation is the sign of the cross product (q-p) x (r-p).
func orientation(p, q, r orb.Point) int {
	v := (q[0]-p[0])*(r[1]-p[1]) - (q[1]-p[1])*(r[0]-p[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func boundCovers(outer, inner orb.Bound) bool {
	return outer.Contains(inner.Min) && outer.Contains(inner.Max)
}

func vertices(g orb.Geometry) []orb.Point {
	switch t := g.(type) {
	case orb.Point:
		return []orb.Point{t}
	case orb.MultiPoint:
		return []orb.Point(t)
	case orb.LineString:
		return []orb.Point(t)
	case orb.Ring:
		return []orb.Point(t)
	case orb.MultiLineString:
		var out []orb.Point
		for _, ls := range t {
			out = append(out, ls...)
		}
		return out
	case orb.Polygon:
		var out []orb.Point
		for _, r := range t {
			out = append(out, r...)
		}
		return out
	case orb.MultiPolygon:
		var out []orb.Point
		for _, p := range t {
			out = append(out, vertices(p)...)
		}
		return out
	case orb.Collection:
		var out []orb.Point
		for _, c := range t {
			out = append(out, vertices(c)...)
		}
		return out
	case orb.Bound:
		return []orb.Point(t.ToRing())
	default:
		return nil
	}
}
