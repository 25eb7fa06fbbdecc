package store

import (
	"context"
	"errors"
	"testing"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/models"
)

func newRequest(id string) *models.ServiceRequest {
	return &models.ServiceRequest{
		ID:          id,
		CustomerID:  "cust-1",
		ServiceType: models.ServiceMechanic,
		Location:    models.Coord{Lat: 30.0, Lng: 31.2},
		Status:      models.StatusPending,
	}
}

func TestMemoryStoreCreateAssignsVersion(t *testing.T) {
	s := NewMemoryStore()
	r := newRequest("r1")
	if err := s.Create(context.Background(), r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Version != 1 {
		t.Fatalf("expected version 1, got %d", r.Version)
	}
	if err := s.Create(context.Background(), newRequest("r1")); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}
}

func TestMemoryStoreUpdateCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Create(ctx, newRequest("r1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := s.Get(ctx, "r1")
	b, _ := s.Get(ctx, "r1")

	a.Status = models.StatusAccepted
	a.AcceptedProviders = []string{"p1"}
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if a.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", a.Version)
	}

	b.Status = models.StatusCanceled
	if err := s.Update(ctx, b); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale write should conflict, got %v", err)
	}

	cur, _ := s.Get(ctx, "r1")
	if cur.Status != models.StatusAccepted {
		t.Fatalf("losing write must not land, status=%s", cur.Status)
	}
}

func TestMemoryStoreGetReturnsSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newRequest("r1")
	r.AcceptedProviders = []string{"p1"}
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := s.Get(ctx, "r1")
	got.AcceptedProviders[0] = "mutated"
	again, _ := s.Get(ctx, "r1")
	if again.AcceptedProviders[0] != "p1" {
		t.Fatal("store handed out shared slice")
	}
}

func TestMemoryStoreListPendingFiltersTypeAndStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r1 := newRequest("r1")
	_ = s.Create(ctx, r1)
	r2 := newRequest("r2")
	r2.ServiceType = models.ServiceFuel
	_ = s.Create(ctx, r2)
	r3 := newRequest("r3")
	_ = s.Create(ctx, r3)
	got, _ := s.Get(ctx, "r3")
	got.Status = models.StatusCanceled
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	out, err := s.ListPending(ctx, models.ServiceMechanic)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "r1" {
		t.Fatalf("expected only r1 pending mechanic, got %v", out)
	}
}

func TestMemoryStoreListByProviderCoversAcceptedAndConfirmed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r1 := newRequest("r1")
	_ = s.Create(ctx, r1)
	got, _ := s.Get(ctx, "r1")
	got.Status = models.StatusAccepted
	got.AcceptedProviders = []string{"p1"}
	_ = s.Update(ctx, got)

	r2 := newRequest("r2")
	_ = s.Create(ctx, r2)
	got2, _ := s.Get(ctx, "r2")
	got2.Status = models.StatusAccepted
	got2.AcceptedProviders = []string{"p1"}
	_ = s.Update(ctx, got2)
	got2, _ = s.Get(ctx, "r2")
	got2.Status = models.StatusConfirmed
	got2.AcceptedProviders = nil
	got2.ConfirmedProviderID = "p1"
	_ = s.Update(ctx, got2)

	out, err := s.ListByProvider(ctx, "p1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected accepted and confirmed requests, got %d", len(out))
	}
	out, _ = s.ListByProvider(ctx, "p1", models.StatusConfirmed)
	if len(out) != 1 || out[0].ID != "r2" {
		t.Fatalf("status filter broken: %v", out)
	}
}
