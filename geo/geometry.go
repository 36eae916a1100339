package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// District identifies a polygonal region by its stable id and display name.
type District struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Label returns the display name, falling back to a generic label built from the id.
func (d District) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return "District " + d.ID
}

var (
	idFields   = []string{"kod_mc", "KOD_MC", "kod_uzohmp", "KOD_UZOHMP", "objectid", "OBJECTID"}
	nameFields = []string{"nazev_mc", "NAZEV_MC", "nazev_1", "NAZEV_1", "naz_uzohmp", "NAZ_UZOHMP", "name", "NAME", "nazev", "NAZEV"}
)

// ErrNotFeatureCollection is returned when boundary data is not a GeoJSON FeatureCollection.
var ErrNotFeatureCollection = errors.New("geo: boundary data is not a FeatureCollection")

type feature struct {
	district District
	polygons []orb.Polygon
	bound    orb.Bound
}

func (f *feature) contains(lng, lat float64) bool {
	if !f.bound.Contains(orb.Point{lng, lat}) {
		return false
	}
	for _, poly := range f.polygons {
		if polygonContains(poly, lng, lat) {
			return true
		}
	}
	return false
}

// parseFeatures decodes a FeatureCollection, keeping load order and skipping
// features without a polygonal geometry or without an id.
func parseFeatures(data []byte) ([]feature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	if fc.Type != "FeatureCollection" {
		return nil, ErrNotFeatureCollection
	}

	out := make([]feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		var polys []orb.Polygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polys = []orb.Polygon{g}
		case orb.MultiPolygon:
			polys = []orb.Polygon(g)
		default:
			continue
		}
		id := districtID(f)
		if id == "" {
			continue
		}
		out = append(out, feature{
			district: District{ID: id, Name: districtName(f)},
			polygons: polys,
			bound:    f.Geometry.Bound(),
		})
	}
	return out, nil
}

func districtID(f *geojson.Feature) string {
	if id := SafeID(f.ID); id != "" {
		return id
	}
	for _, key := range idFields {
		if v, ok := f.Properties[key]; ok {
			if id := SafeID(v); id != "" {
				return id
			}
		}
	}
	return ""
}

func districtName(f *geojson.Feature) string {
	for _, key := range nameFields {
		if s, ok := f.Properties[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// SafeID renders an identifier from loosely typed input as a trimmed string.
// Integral floats are printed without a fractional part.
func SafeID(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	default:
		return ""
	}
}

// polygonContains applies the even-odd rule: inside the shell and outside every hole.
func polygonContains(poly orb.Polygon, lng, lat float64) bool {
	if len(poly) == 0 || !ringContains(poly[0], lng, lat) {
		return false
	}
	for _, hole := range poly[1:] {
		if ringContains(hole, lng, lat) {
			return false
		}
	}
	return true
}

// ringContains casts a ray towards +lng. Edges are half-open in lat, so a point on
// a shared edge lands in exactly one of two neighbouring rings.
func ringContains(ring orb.Ring, lng, lat float64) bool {
	if len(ring) < 4 {
		return false
	}
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) && lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
