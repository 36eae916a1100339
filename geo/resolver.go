package geo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNotLoaded is returned by queries that need boundary data before it is available.
var ErrNotLoaded = errors.New("geo: boundary data not loaded")

// Resolver maps coordinates to districts using boundary polygons loaded from a
// GeoJSON FeatureCollection. It is safe for concurrent use.
type Resolver struct {
	source string
	client *fasthttp.Client
	log    *zap.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	features []feature
	index    map[string]int
	loaded   bool
}

// NewResolver creates a resolver reading from a file path or an http(s) URL.
// Nothing is read until Load is called.
func NewResolver(source string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source: source,
		log:    logger,
		client: &fasthttp.Client{
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

// NewResolverFromData builds an already loaded resolver from raw GeoJSON.
func NewResolverFromData(data []byte) (*Resolver, error) {
	r := NewResolver("", nil)
	features, err := parseFeatures(data)
	if err != nil {
		return nil, err
	}
	r.install(features)
	return r, nil
}

// Loaded reports whether boundary data is available.
func (r *Resolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Load fetches and parses the boundary data once. Concurrent callers share a
// single in-flight load; a failed load is not memoised so the next call retries.
func (r *Resolver) Load(ctx context.Context) error {
	if r.Loaded() {
		return nil
	}
	_, err, _ := r.group.Do("load", func() (interface{}, error) {
		if r.Loaded() {
			return nil, nil
		}
		data, err := r.read(ctx)
		if err != nil {
			return nil, err
		}
		features, err := parseFeatures(data)
		if err != nil {
			return nil, fmt.Errorf("geo: parse %s: %w", r.source, err)
		}
		r.install(features)
		r.log.Info("district boundaries loaded", zap.String("source", r.source), zap.Int("features", len(features)))
		return nil, nil
	})
	if err != nil {
		r.log.Warn("failed to load district boundaries", zap.String("source", r.source), zap.Error(err))
	}
	return err
}

func (r *Resolver) install(features []feature) {
	index := make(map[string]int, len(features))
	for i, f := range features {
		if _, dup := index[f.district.ID]; !dup {
			index[f.district.ID] = i
		}
	}
	r.mu.Lock()
	r.features = features
	r.index = index
	r.loaded = true
	r.mu.Unlock()
}

func (r *Resolver) read(ctx context.Context) ([]byte, error) {
	if r.source == "" {
		return nil, errors.New("geo: no boundary source configured")
	}
	if strings.HasPrefix(r.source, "http://") || strings.HasPrefix(r.source, "https://") {
		return r.fetch(ctx)
	}
	data, err := os.ReadFile(r.source)
	if err != nil {
		return nil, fmt.Errorf("geo: read %s: %w", r.source, err)
	}
	return data, nil
}

func (r *Resolver) fetch(ctx context.Context) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.source)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/geo+json, application/json")

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = r.client.DoDeadline(req, resp, deadline)
	} else {
		err = r.client.Do(req, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("geo: fetch %s: %w", r.source, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("geo: fetch %s: status %d", r.source, resp.StatusCode())
	}
	return append([]byte(nil), resp.Body()...), nil
}

// Locate returns the first district, in load order, whose geometry contains the point.
// It reports false when no district matches or the data is not loaded yet.
func (r *Resolver) Locate(lng, lat float64) (District, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.features {
		if r.features[i].contains(lng, lat) {
			return r.features[i].district, true
		}
	}
	return District{}, false
}

// Lookup returns the district registered under id.
func (r *Resolver) Lookup(id string) (District, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[strings.TrimSpace(id)]
	if !ok {
		return District{}, false
	}
	return r.features[i].district, true
}

// Districts lists every loaded district once, sorted by label.
func (r *Resolver) Districts() ([]District, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	out := make([]District, 0, len(r.index))
	for _, i := range r.index {
		out = append(out, r.features[i].district)
	}
	sort.Slice(out, func(a, b int) bool {
		la, lb := out[a].Label(), out[b].Label()
		if la == lb {
			return out[a].ID < out[b].ID
		}
		return la < lb
	})
	return out, nil
}
