package geo

import (
	"context"
	"testing"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/models"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	g := NewIndex()
	ctx := context.Background()
	providers := []models.Provider{
		{ID: "near", Loc: models.Coord{Lat: 30.01, Lng: 31.2}, Services: []models.ServiceType{models.ServiceMechanic}, Verified: true},
		{ID: "far", Loc: models.Coord{Lat: 30.5, Lng: 31.2}, Services: []models.ServiceType{models.ServiceMechanic}, Verified: true},
		{ID: "unverified", Loc: models.Coord{Lat: 30.0, Lng: 31.2}, Services: []models.ServiceType{models.ServiceMechanic}, Verified: false},
		{ID: "fuel-only", Loc: models.Coord{Lat: 30.0, Lng: 31.2}, Services: []models.ServiceType{models.ServiceFuel}, Verified: true},
	}
	for _, p := range providers {
		if err := g.UpsertProvider(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", p.ID, err)
		}
	}
	return g
}

func TestQueryOrdersByDistanceAndFilters(t *testing.T) {
	g := seedIndex(t)
	out, err := g.Query(context.Background(), models.Coord{Lat: 30.0, Lng: 31.2}, models.ServiceMechanic, 100000, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(out))
	}
	if out[0].ID != "near" || out[1].ID != "far" {
		t.Fatalf("wrong order: %s, %s", out[0].ID, out[1].ID)
	}
}

func TestQueryRadiusZeroMatchesOnlyExactPoint(t *testing.T) {
	g := seedIndex(t)
	out, err := g.Query(context.Background(), models.Coord{Lat: 30.0, Lng: 31.2}, models.ServiceFuel, 0, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].ID != "fuel-only" {
		t.Fatalf("expected exact-point fuel provider, got %v", out)
	}
	out, err = g.Query(context.Background(), models.Coord{Lat: 31.0, Lng: 31.2}, models.ServiceFuel, 0, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no providers at radius 0 away from everyone, got %d", len(out))
	}
}

func TestQueryUnboundedReturnsAllVerified(t *testing.T) {
	g := seedIndex(t)
	out, err := g.Query(context.Background(), models.Coord{Lat: 0, Lng: 0}, models.ServiceMechanic, Unbounded, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected all verified mechanics, got %d", len(out))
	}
}

func TestQueryEmptyIsNotAnError(t *testing.T) {
	g := NewIndex()
	out, err := g.Query(context.Background(), models.Coord{Lat: 30, Lng: 31}, models.ServiceFuel, 10000, 5)
	if err != nil {
		t.Fatalf("empty query should not error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d", len(out))
	}
}

func TestQueryRejectsInvalidLocation(t *testing.T) {
	g := NewIndex()
	_, err := g.Query(context.Background(), models.Coord{Lat: 123, Lng: 31}, models.ServiceFuel, 1000, 5)
	if err == nil {
		t.Fatal("expected validation error for latitude out of range")
	}
	if apperr.Code(err) != "validation_error" {
		t.Fatalf("expected validation_error, got %s", apperr.Code(err))
	}
	if err := g.UpsertProvider(context.Background(), models.Provider{ID: "x", Loc: models.Coord{Lat: 0, Lng: 200}}); err == nil {
		t.Fatal("expected validation error for longitude out of range")
	}
}

func TestQueryStableOrderOnTies(t *testing.T) {
	g := NewIndex()
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		_ = g.UpsertProvider(ctx, models.Provider{
			ID: id, Loc: models.Coord{Lat: 10, Lng: 10},
			Services: []models.ServiceType{models.ServiceFuel}, Verified: true,
		})
	}
	for i := 0; i < 3; i++ {
		out, err := g.Query(ctx, models.Coord{Lat: 10, Lng: 10}, models.ServiceFuel, 100, 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
			t.Fatalf("unstable tie order: %s %s %s", out[0].ID, out[1].ID, out[2].ID)
		}
	}
}

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}
