package geo

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/models"
)

// belt of the earth; any radius above this covers every member
const maxRadiusMeters = 40075017.0

// RedisGeo implements Geo using Redis GEO commands. Locations live in one
// geo set per service type so a query never pages through providers of the
// wrong capability; metadata (verified flag, capability set, push token)
// lives in a hash per provider.
type RedisGeo struct {
	client *redis.Client
	prefix string
}

func NewRedisGeo(addr, password, prefix string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, prefix: prefix}
}

// NewRedisGeoWithClient is used by tests and by callers that share a client.
func NewRedisGeoWithClient(c *redis.Client, prefix string) *RedisGeo {
	return &RedisGeo{client: c, prefix: prefix}
}

func (r *RedisGeo) geoKey(st models.ServiceType) string {
	return r.prefix + ":geo:" + string(st)
}

func (r *RedisGeo) metaKey(id string) string {
	return r.prefix + ":meta:" + id
}

func (r *RedisGeo) UpsertProvider(ctx context.Context, p models.Provider) error {
	const op = "geo.redis.UpsertProvider"
	if !p.Loc.Valid() {
		return apperr.Wrap(op, apperr.ErrValidation)
	}
	loc := &redis.GeoLocation{Longitude: p.Loc.Lng, Latitude: p.Loc.Lat, Name: p.ID}
	for _, st := range p.Services {
		if err := r.client.GeoAdd(ctx, r.geoKey(st), loc).Err(); err != nil {
			return apperr.Wrap(op, err)
		}
	}
	services := make([]string, 0, len(p.Services))
	for _, st := range p.Services {
		services = append(services, string(st))
	}
	meta := map[string]interface{}{
		"lat":      strconv.FormatFloat(p.Loc.Lat, 'f', 6, 64),
		"lng":      strconv.FormatFloat(p.Loc.Lng, 'f', 6, 64),
		"services": strings.Join(services, ","),
		"verified": strconv.FormatBool(p.Verified),
		"rating":   strconv.FormatFloat(p.Rating, 'f', 2, 64),
		"updated":  time.Now().Format(time.RFC3339),
	}
	if p.PushToken != "" {
		meta["push_token"] = p.PushToken
	}
	if err := r.client.HSet(ctx, r.metaKey(p.ID), meta).Err(); err != nil {
		return apperr.Wrap(op, err)
	}
	return nil
}

func (r *RedisGeo) Query(ctx context.Context, point models.Coord, st models.ServiceType, radiusMeters float64, limit int) ([]models.Provider, error) {
	const op = "geo.redis.Query"
	if !point.Valid() {
		return nil, apperr.Wrap(op, apperr.ErrValidation)
	}
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return nil, apperr.Wrap(op, apperr.ErrValidation)
	}
	radius := radiusMeters
	if math.IsInf(radius, 1) || radius > maxRadiusMeters {
		radius = maxRadiusMeters
	}
	q := &redis.GeoRadiusQuery{
		Radius:    radius,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}
	if limit > 0 {
		// eligibility is filtered after the radius query, so fetch extra
		// members to keep unverified ones from crowding out a capped result
		q.Count = limit * 2
	}
	res, err := r.client.GeoRadius(ctx, r.geoKey(st), point.Lng, point.Lat, q).Result()
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return filterEligible(ctx, res, r.Lookup, st, limit)
}

// filterEligible keeps only verified providers offering the service type,
// preserving the distance ordering of the radius query and capping at limit.
func filterEligible(ctx context.Context, res []redis.GeoLocation, lookup func(context.Context, string) (*models.Provider, bool, error), st models.ServiceType, limit int) ([]models.Provider, error) {
	out := make([]models.Provider, 0, len(res))
	for _, g := range res {
		if limit > 0 && len(out) == limit {
			break
		}
		p, ok, err := lookup(ctx, g.Name)
		if err != nil {
			return nil, err
		}
		if !ok || !p.Verified || !p.Offers(st) {
			continue
		}
		p.Loc = models.Coord{Lat: g.Latitude, Lng: g.Longitude}
		out = append(out, *p)
	}
	return out, nil
}

func (r *RedisGeo) Lookup(ctx context.Context, providerID string) (*models.Provider, bool, error) {
	const op = "geo.redis.Lookup"
	m, err := r.client.HGetAll(ctx, r.metaKey(providerID)).Result()
	if err != nil {
		return nil, false, apperr.Wrap(op, err)
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	p := &models.Provider{ID: providerID}
	if v, ok := m["lat"]; ok {
		p.Loc.Lat, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["lng"]; ok {
		p.Loc.Lng, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["rating"]; ok {
		p.Rating, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["verified"]; ok {
		p.Verified = v == "true"
	}
	if v, ok := m["push_token"]; ok {
		p.PushToken = v
	}
	if v, ok := m["services"]; ok && v != "" {
		for _, s := range strings.Split(v, ",") {
			if st, ok := models.ParseServiceType(s); ok {
				p.Services = append(p.Services, st)
			}
		}
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			p.Updated = t
		}
	}
	return p, true, nil
}

func (r *RedisGeo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisGeo) Close() error { return r.client.Close() }
