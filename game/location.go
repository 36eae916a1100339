package game

import (
	"strings"

	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/profile"
)

// Source tells how the current district of a player was determined.
type Source string

const (
	SourceProfile      Source = "profile"
	SourceGeolocated   Source = "geolocated"
	SourceMap          Source = "map"
	SourceHomeFallback Source = "home-fallback"
	// SourceHomeRemote marks a defend of the home district from elsewhere.
	SourceHomeRemote Source = "home-remote"
)

// Precise reports whether the source proves the player stands in the district.
func (s Source) Precise() bool {
	return s == SourceMap || s == SourceGeolocated
}

// Locator resolves coordinates and ids to districts.
type Locator interface {
	Locate(lng, lat float64) (geo.District, bool)
	Lookup(id string) (geo.District, bool)
}

// Coords is a WGS84 position.
type Coords struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Ambient is what the client currently knows about the player's surroundings
// besides the stored profile: a live GPS fix and the district picked on the map.
type Ambient struct {
	Live        *Coords
	MapDistrict *geo.District
}

// LocationContext is the answer to "where is the player right now".
type LocationContext struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Source Source   `json:"source"`
	Lng    *float64 `json:"lng"`
	Lat    *float64 `json:"lat"`
}

// ResolveCurrentDistrict picks the player's district by precedence: the stored
// last known location, the live fix, the map selection and finally, when
// allowHomeFallback is set, the home district. It returns nil when nothing applies.
//
// A stored location confirmed by a live fix in the same district is reported
// as geolocated.
func ResolveCurrentDistrict(p *profile.Profile, amb Ambient, loc Locator, allowHomeFallback bool) *LocationContext {
	var live *geo.District
	if amb.Live != nil && loc != nil {
		if d, ok := loc.Locate(amb.Live.Lng, amb.Live.Lat); ok {
			live = &d
		}
	}

	if p != nil && p.LastKnownLocation != nil && p.LastKnownLocation.DistrictID != "" {
		last := p.LastKnownLocation
		ctx := &LocationContext{
			ID:     last.DistrictID,
			Name:   nameOr(last.DistrictName, last.DistrictID),
			Source: SourceProfile,
			Lng:    copyFloat(last.Lng),
			Lat:    copyFloat(last.Lat),
		}
		if live != nil && live.ID == last.DistrictID {
			ctx.Source = SourceGeolocated
			ctx.Lng, ctx.Lat = coordPtrs(amb.Live)
		}
		return ctx
	}

	if live != nil {
		lng, lat := coordPtrs(amb.Live)
		return &LocationContext{ID: live.ID, Name: live.Label(), Source: SourceGeolocated, Lng: lng, Lat: lat}
	}

	if amb.MapDistrict != nil && strings.TrimSpace(amb.MapDistrict.ID) != "" {
		id := strings.TrimSpace(amb.MapDistrict.ID)
		ctx := &LocationContext{ID: id, Name: nameOr(amb.MapDistrict.Name, id), Source: SourceMap}
		if amb.Live != nil {
			ctx.Lng, ctx.Lat = coordPtrs(amb.Live)
		}
		return ctx
	}

	if allowHomeFallback && p != nil && p.HomeDistrictID != "" {
		return &LocationContext{
			ID:     p.HomeDistrictID,
			Name:   p.HomeLabel(),
			Source: SourceHomeFallback,
		}
	}
	return nil
}

func nameOr(name, id string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "District " + id
}

func coordPtrs(c *Coords) (*float64, *float64) {
	if c == nil {
		return nil, nil
	}
	lng, lat := c.Lng, c.Lat
	return &lng, &lat
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
