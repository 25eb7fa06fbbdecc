package match

import (
	"context"
	"testing"

	"github.com/example/roadassist/internal/geo"
	"github.com/example/roadassist/internal/models"
)

type captureNotifier struct {
	providers  []string
	events     []models.RequestEvent
	broadcasts []models.RequestEvent
}

func (c *captureNotifier) NotifyProviders(ctx context.Context, ps []models.Provider, ev models.RequestEvent) {
	for _, p := range ps {
		c.providers = append(c.providers, p.ID)
	}
	c.events = append(c.events, ev)
}

func (c *captureNotifier) NotifyCustomer(ctx context.Context, customerID string, ev models.RequestEvent) {
}

func (c *captureNotifier) Broadcast(ctx context.Context, st models.ServiceType, ev models.RequestEvent) {
	c.broadcasts = append(c.broadcasts, ev)
}

func mechanicRequest() *models.ServiceRequest {
	return &models.ServiceRequest{
		ID:          "r1",
		CustomerID:  "c1",
		ServiceType: models.ServiceMechanic,
		Location:    models.Coord{Lat: 30.0, Lng: 31.2},
		Status:      models.StatusPending,
	}
}

func TestDispatchNotifiesNearbyEligibleProviders(t *testing.T) {
	g := geo.NewIndex()
	ctx := context.Background()
	_ = g.UpsertProvider(ctx, models.Provider{ID: "close", Loc: models.Coord{Lat: 30.01, Lng: 31.2}, Services: []models.ServiceType{models.ServiceMechanic}, Verified: true})
	_ = g.UpsertProvider(ctx, models.Provider{ID: "wrong-type", Loc: models.Coord{Lat: 30.01, Lng: 31.2}, Services: []models.ServiceType{models.ServiceFuel}, Verified: true})
	_ = g.UpsertProvider(ctx, models.Provider{ID: "too-far", Loc: models.Coord{Lat: 35.0, Lng: 31.2}, Services: []models.ServiceType{models.ServiceMechanic}, Verified: true})

	n := &captureNotifier{}
	s := &Service{Geo: g, Notify: n, RadiusMeters: 10000, CandidateCap: 10, DefaultSpeedMps: 10}

	notified, err := s.Dispatch(context.Background(), mechanicRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(notified) != 1 || notified[0] != "close" {
		t.Fatalf("expected only the close mechanic, got %v", notified)
	}
	if len(n.events) != 1 || n.events[0].Type != "request.new" {
		t.Fatalf("expected one request.new event, got %v", n.events)
	}
	if n.events[0].ETASeconds <= 0 {
		t.Fatalf("expected positive eta annotation, got %f", n.events[0].ETASeconds)
	}
}

func TestDispatchBroadcastsFeedOncePerRequest(t *testing.T) {
	g := geo.NewIndex()
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		_ = g.UpsertProvider(ctx, models.Provider{ID: id, Loc: models.Coord{Lat: 30.01, Lng: 31.2}, Services: []models.ServiceType{models.ServiceMechanic}, Verified: true})
	}

	n := &captureNotifier{}
	s := &Service{Geo: g, Notify: n, RadiusMeters: 10000, CandidateCap: 10, DefaultSpeedMps: 10}

	notified, err := s.Dispatch(ctx, mechanicRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(notified) != 3 {
		t.Fatalf("expected 3 candidates, got %v", notified)
	}
	if len(n.broadcasts) != 1 {
		t.Fatalf("feed must see one request.new per request, got %d", len(n.broadcasts))
	}
	if n.broadcasts[0].Type != "request.new" || n.broadcasts[0].RequestID != "r1" {
		t.Fatalf("unexpected feed event %+v", n.broadcasts[0])
	}
}

func TestDispatchDefaultsDoNotMutateService(t *testing.T) {
	s := &Service{Geo: geo.NewIndex(), Notify: &captureNotifier{}}
	if _, err := s.Dispatch(context.Background(), mechanicRequest()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if s.RadiusMeters != 0 || s.CandidateCap != 0 {
		t.Fatalf("defaults leaked into the service struct: radius=%f cap=%d", s.RadiusMeters, s.CandidateCap)
	}
}

func TestDispatchZeroProvidersIsEmptyNotError(t *testing.T) {
	n := &captureNotifier{}
	s := &Service{Geo: geo.NewIndex(), Notify: n, RadiusMeters: 10000, CandidateCap: 10}

	notified, err := s.Dispatch(context.Background(), mechanicRequest())
	if err != nil {
		t.Fatalf("zero providers must not error: %v", err)
	}
	if len(notified) != 0 {
		t.Fatalf("expected empty set, got %v", notified)
	}
	if len(n.providers) != 0 {
		t.Fatalf("nobody should be notified, got %v", n.providers)
	}
}

func TestDispatchInvalidLocationSurfaces(t *testing.T) {
	s := &Service{Geo: geo.NewIndex(), Notify: &captureNotifier{}, RadiusMeters: 10000, CandidateCap: 10}
	r := mechanicRequest()
	r.Location = models.Coord{Lat: 100, Lng: 0}
	if _, err := s.Dispatch(context.Background(), r); err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}
}
