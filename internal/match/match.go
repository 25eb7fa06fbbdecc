package match

import (
	"context"
	"log/slog"

	"github.com/example/roadassist/internal/eta"
	"github.com/example/roadassist/internal/geo"
	"github.com/example/roadassist/internal/models"
	"github.com/example/roadassist/internal/observability"
	"github.com/example/roadassist/internal/relay"
)

// Service broadcasts a new request to nearby eligible providers. Finding
// nobody is not a failure: the request stays pending and late providers
// discover it through the pending-list pull path.
type Service struct {
	Geo             geo.Geo
	Notify          relay.Notifier
	RadiusMeters    float64
	CandidateCap    int
	DefaultSpeedMps float64
	ETAClient       eta.Client // optional OSRM client
	ETACache        *eta.Cache // optional ETA cache
	Logger          *slog.Logger
}

// Dispatch queries the geo index at the configured radius and pushes the
// request to every candidate, annotated with that provider's estimated
// travel time. Returns the IDs of providers notified.
func (s *Service) Dispatch(ctx context.Context, r *models.ServiceRequest) ([]string, error) {
	radius := s.RadiusMeters
	if radius <= 0 {
		radius = 10000
	}
	limit := s.CandidateCap
	if limit <= 0 {
		limit = 25
	}
	cands, err := s.Geo.Query(ctx, r.Location, r.ServiceType, radius, limit)
	if err != nil {
		return nil, err
	}
	s.Notify.Broadcast(ctx, r.ServiceType, models.RequestEvent{
		Type: "request.new", RequestID: r.ID, Request: r,
	})
	if len(cands) == 0 {
		observability.MatchesEmpty.Inc()
		if s.Logger != nil {
			s.Logger.Info("dispatch found no providers", "request_id", r.ID, "service_type", r.ServiceType)
		}
		return []string{}, nil
	}

	notified := make([]string, 0, len(cands))
	for _, p := range cands {
		ev := models.RequestEvent{
			Type:       "request.new",
			RequestID:  r.ID,
			Request:    r,
			ETASeconds: s.estimate(p.Loc, r.Location),
		}
		s.Notify.NotifyProviders(ctx, []models.Provider{p}, ev)
		notified = append(notified, p.ID)
	}
	observability.MatchesDispatched.Inc()
	observability.ProvidersNotified.Add(float64(len(notified)))
	if s.Logger != nil {
		s.Logger.Info("dispatched request", "request_id", r.ID, "providers", len(notified))
	}
	return notified, nil
}

func (s *Service) estimate(from, to models.Coord) float64 {
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(from, to); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateSeconds(from, to); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, s.DefaultSpeedMps)
}
