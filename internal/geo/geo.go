package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/models"
)

// Unbounded can be passed as radiusMeters to return every matching
// provider regardless of distance.
var Unbounded = math.Inf(1)

// Geo answers "which verified providers of a service type are within
// radius R of point P", and resolves individual provider records.
type Geo interface {
	UpsertProvider(ctx context.Context, p models.Provider) error
	// Query returns verified providers offering st within radiusMeters of
	// point, ordered by ascending distance. Zero matches is a valid empty
	// result, not an error.
	Query(ctx context.Context, point models.Coord, st models.ServiceType, radiusMeters float64, limit int) ([]models.Provider, error)
	Lookup(ctx context.Context, providerID string) (*models.Provider, bool, error)
}

// Index is the in-memory implementation, used in tests and single-node
// local runs. Production deployments use RedisGeo.
type Index struct {
	mu        sync.RWMutex
	providers map[string]models.Provider
}

func NewIndex() *Index {
	return &Index{providers: make(map[string]models.Provider)}
}

func (g *Index) UpsertProvider(ctx context.Context, p models.Provider) error {
	if !p.Loc.Valid() {
		return apperr.Wrap("geo.UpsertProvider", apperr.ErrValidation)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p.Updated = time.Now()
	g.providers[p.ID] = p
	return nil
}

// naive scan; swap in geohash buckets if the provider count ever hurts
func (g *Index) Query(ctx context.Context, point models.Coord, st models.ServiceType, radiusMeters float64, limit int) ([]models.Provider, error) {
	if !point.Valid() {
		return nil, apperr.Wrap("geo.Query", apperr.ErrValidation)
	}
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return nil, apperr.Wrap("geo.Query", apperr.ErrValidation)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	type scored struct {
		p    models.Provider
		dist float64
	}
	arr := make([]scored, 0, len(g.providers))
	for _, p := range g.providers {
		if !p.Verified || !p.Offers(st) {
			continue
		}
		dist := Haversine(point.Lat, point.Lng, p.Loc.Lat, p.Loc.Lng)
		if dist > radiusMeters {
			continue
		}
		arr = append(arr, scored{p, dist})
	}
	// ties break on ID so re-running an unchanged query keeps its order
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].dist != arr[j].dist {
			return arr[i].dist < arr[j].dist
		}
		return arr[i].p.ID < arr[j].p.ID
	})
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.Provider, 0, len(arr))
	for _, s := range arr {
		out = append(out, s.p)
	}
	return out, nil
}

func (g *Index) Lookup(ctx context.Context, providerID string) (*models.Provider, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[providerID]
	if !ok {
		return nil, false, nil
	}
	cp := p
	return &cp, true, nil
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
