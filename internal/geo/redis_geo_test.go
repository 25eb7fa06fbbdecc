package geo

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/example/roadassist/internal/models"
)

func TestFilterEligibleUnverifiedDoNotCrowdOutCap(t *testing.T) {
	// radius results come back distance-ordered with the unverified
	// members closest; a cap of 2 must still yield the eligible pair
	res := []redis.GeoLocation{
		{Name: "unverified-1", Latitude: 30.001, Longitude: 31.2},
		{Name: "unverified-2", Latitude: 30.002, Longitude: 31.2},
		{Name: "ok-1", Latitude: 30.003, Longitude: 31.2},
		{Name: "wrong-type", Latitude: 30.004, Longitude: 31.2},
		{Name: "ok-2", Latitude: 30.005, Longitude: 31.2},
		{Name: "ok-3", Latitude: 30.006, Longitude: 31.2},
	}
	lookup := func(ctx context.Context, id string) (*models.Provider, bool, error) {
		p := &models.Provider{ID: id, Verified: true, Services: []models.ServiceType{models.ServiceMechanic}}
		switch id {
		case "unverified-1", "unverified-2":
			p.Verified = false
		case "wrong-type":
			p.Services = []models.ServiceType{models.ServiceFuel}
		}
		return p, true, nil
	}

	out, err := filterEligible(context.Background(), res, lookup, models.ServiceMechanic, 2)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(out) != 2 || out[0].ID != "ok-1" || out[1].ID != "ok-2" {
		t.Fatalf("expected the two nearest eligible providers, got %+v", out)
	}
}

func TestFilterEligibleLookupErrorSurfaces(t *testing.T) {
	res := []redis.GeoLocation{{Name: "p1"}}
	lookup := func(ctx context.Context, id string) (*models.Provider, bool, error) {
		return nil, false, fmt.Errorf("hgetall %s: connection refused", id)
	}
	if _, err := filterEligible(context.Background(), res, lookup, models.ServiceMechanic, 0); err == nil {
		t.Fatal("lookup failure must surface")
	}
}
