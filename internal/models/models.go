package models

import (
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside WGS84 bounds.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// ServiceType is the kind of assistance a customer can ask for.
type ServiceType string

const (
	ServiceFuel     ServiceType = "fuel"
	ServiceMechanic ServiceType = "mechanic"
)

// ParseServiceType normalizes input to the lowercase enum. Older clients
// send capitalized values ("Mechanic"), so matching is case-insensitive.
func ParseServiceType(s string) (ServiceType, bool) {
	switch ServiceType(strings.ToLower(strings.TrimSpace(s))) {
	case ServiceFuel:
		return ServiceFuel, true
	case ServiceMechanic:
		return ServiceMechanic, true
	}
	return "", false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusAccepted:
		return StatusAccepted, true
	case StatusConfirmed:
		return StatusConfirmed, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusCanceled:
		return StatusCanceled, true
	}
	return "", false
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransition encodes the one-way lifecycle:
// pending -> accepted -> confirmed -> completed, with cancel allowed
// from pending and accepted only.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusAccepted || to == StatusCanceled
	case StatusAccepted:
		return to == StatusConfirmed || to == StatusCanceled
	case StatusConfirmed:
		return to == StatusCompleted
	}
	return false
}

// ServiceRequest is a customer's ask for assistance at a location.
// Version guards every write: stores only apply an update when the stored
// version matches, so concurrent transitions cannot both win.
type ServiceRequest struct {
	ID                  string      `json:"id"`
	CustomerID          string      `json:"customer_id"`
	ServiceType         ServiceType `json:"service_type"`
	Location            Coord       `json:"location"`
	ProblemDescription  string      `json:"problem_description"`
	Status              Status      `json:"status"`
	AcceptedProviders   []string    `json:"accepted_providers"`
	ConfirmedProviderID string      `json:"confirmed_provider_id,omitempty"`
	Version             int64       `json:"version"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// HasAccepted reports whether the provider is already in the accepted set.
func (r *ServiceRequest) HasAccepted(providerID string) bool {
	for _, p := range r.AcceptedProviders {
		if p == providerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so in-memory stores can hand out snapshots.
func (r *ServiceRequest) Clone() *ServiceRequest {
	cp := *r
	cp.AcceptedProviders = append([]string(nil), r.AcceptedProviders...)
	return &cp
}

// Provider is the externally-owned actor referenced by requests. The geo
// index is the source of truth for its location and capability set.
type Provider struct {
	ID        string        `json:"id"`
	Loc       Coord         `json:"loc"`
	Services  []ServiceType `json:"services"`
	Verified  bool          `json:"verified"`
	Rating    float64       `json:"rating"` // 0..5
	PushToken string        `json:"push_token,omitempty"`
	Updated   time.Time     `json:"updated"`
}

// Offers reports whether the provider is capable of the given service type.
func (p *Provider) Offers(st ServiceType) bool {
	for _, s := range p.Services {
		if s == st {
			return true
		}
	}
	return false
}

// RequestEvent is the payload pushed over the notification relay.
type RequestEvent struct {
	Type       string          `json:"type"` // request.new, request.accepted, ...
	RequestID  string          `json:"request_id"`
	Request    *ServiceRequest `json:"request,omitempty"`
	ProviderID string          `json:"provider_id,omitempty"`
	ETASeconds float64         `json:"eta_seconds,omitempty"`
}
