package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

const fixture = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature",
     "properties": {"kod_mc": "100", "nazev_mc": "  Praha 1 "},
     "geometry": {"type": "Polygon", "coordinates": [
       [[0,0],[10,0],[10,10],[0,10],[0,0]],
       [[4,4],[6,4],[6,6],[4,6],[4,4]]
     ]}},
    {"type": "Feature", "id": 500,
     "properties": {"NAME": "Hole Town"},
     "geometry": {"type": "Polygon", "coordinates": [
       [[4,4],[6,4],[6,6],[4,6],[4,4]]
     ]}},
    {"type": "Feature",
     "properties": {"OBJECTID": 712, "KOD_UZOHMP": ""},
     "geometry": {"type": "MultiPolygon", "coordinates": [
       [[[20,20],[22,20],[22,22],[20,22],[20,20]]],
       [[[30,30],[32,30],[32,32],[30,32],[30,30]]]
     ]}},
    {"type": "Feature",
     "properties": {"kod_mc": "900", "name": "Overlap"},
     "geometry": {"type": "Polygon", "coordinates": [
       [[8,0],[12,0],[12,10],[8,10],[8,0]]
     ]}},
    {"type": "Feature",
     "properties": {"kod_mc": "line"},
     "geometry": {"type": "LineString", "coordinates": [[0,0],[1,1]]}},
    {"type": "Feature",
     "properties": {"kod_mc": "tiny"},
     "geometry": {"type": "Polygon", "coordinates": [[[50,50],[51,50],[50,50]]]}}
  ]
}`

func mustResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolverFromData([]byte(fixture))
	if err != nil {
		t.Fatalf("NewResolverFromData: %v", err)
	}
	return r
}

func TestLocate(t *testing.T) {
	r := mustResolver(t)
	cases := []struct {
		name     string
		lng, lat float64
		wantID   string
		wantName string
		found    bool
	}{
		{"shell interior", 1, 1, "100", "Praha 1", true},
		{"inside hole falls through to next feature", 5, 5, "500", "Hole Town", true},
		{"first multipolygon part", 21, 21, "712", "", true},
		{"second multipolygon part", 31, 31, "712", "", true},
		{"overlap resolves to first in load order", 9, 5, "100", "Praha 1", true},
		{"only second feature", 11, 5, "900", "Overlap", true},
		{"outside everything", 100, 100, "", "", false},
		{"degenerate ring never matches", 50.2, 50.0, "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := r.Locate(tc.lng, tc.lat)
			if ok != tc.found {
				t.Fatalf("found=%v, want %v", ok, tc.found)
			}
			if d.ID != tc.wantID || d.Name != tc.wantName {
				t.Fatalf("got %+v, want id=%q name=%q", d, tc.wantID, tc.wantName)
			}
		})
	}
}

func TestSharedEdgeResolvesToSingleDistrict(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","id":"west","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[5,0],[5,10],[0,10],[0,0]]]}},
	  {"type":"Feature","id":"east","properties":{},"geometry":{"type":"Polygon","coordinates":[[[5,0],[10,0],[10,10],[5,10],[5,0]]]}}
	]}`
	r, err := NewResolverFromData([]byte(data))
	if err != nil {
		t.Fatalf("NewResolverFromData: %v", err)
	}
	d, ok := r.Locate(5, 5)
	if !ok || d.ID != "east" {
		t.Fatalf("point on shared edge: got %+v ok=%v, want east", d, ok)
	}
}

func TestLabelFallsBackToID(t *testing.T) {
	r := mustResolver(t)
	d, ok := r.Lookup("712")
	if !ok {
		t.Fatalf("Lookup(712) missing")
	}
	if d.Label() != "District 712" {
		t.Fatalf("Label=%q", d.Label())
	}
}

func TestDistrictsSkipsUnusableFeatures(t *testing.T) {
	r := mustResolver(t)
	ds, err := r.Districts()
	if err != nil {
		t.Fatalf("Districts: %v", err)
	}
	if len(ds) != 5 {
		t.Fatalf("expected 5 districts, got %d: %+v", len(ds), ds)
	}
	for _, d := range ds {
		if d.ID == "line" {
			t.Fatalf("line geometry should be skipped")
		}
	}
}

func TestRejectsNonCollection(t *testing.T) {
	_, err := NewResolverFromData([]byte(`{"type":"Feature","properties":{},"geometry":null}`))
	if err == nil {
		t.Fatalf("expected error for non-collection input")
	}
}

func TestUnloadedResolverDegrades(t *testing.T) {
	r := NewResolver("", nil)
	if _, ok := r.Locate(1, 1); ok {
		t.Fatalf("unloaded resolver should not locate")
	}
	if _, err := r.Districts(); err != ErrNotLoaded {
		t.Fatalf("Districts err=%v, want ErrNotLoaded", err)
	}
	if err := r.Load(context.Background()); err == nil {
		t.Fatalf("expected error without source")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "districts.geojson")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	r := NewResolver(path, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d, ok := r.Locate(1, 1); !ok || d.ID != "100" {
		t.Fatalf("Locate after load: %+v %v", d, ok)
	}
}

func TestLoadFromURLIsMemoised(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	r := NewResolver(srv.URL+"/districts.geojson", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Load(context.Background()); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
	if d, ok := r.Locate(5, 5); !ok || d.ID != "500" {
		t.Fatalf("Locate: %+v %v", d, ok)
	}
}

func TestFailedLoadIsRetried(t *testing.T) {
	var fail int32 = 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&fail) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(fixture))
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, nil)
	if err := r.Load(context.Background()); err == nil {
		t.Fatalf("expected first load to fail")
	}
	atomic.StoreInt32(&fail, 0)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("retry Load: %v", err)
	}
	if !r.Loaded() {
		t.Fatalf("resolver should be loaded after retry")
	}
}
