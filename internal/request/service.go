package request

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/auth"
	"github.com/example/roadassist/internal/geo"
	"github.com/example/roadassist/internal/models"
	"github.com/example/roadassist/internal/observability"
	"github.com/example/roadassist/internal/relay"
	"github.com/example/roadassist/internal/store"
)

// Service owns the request lifecycle. Every mutation reads a snapshot,
// applies the transition, and writes back through the store's
// compare-and-swap; a lost race is retried once before surfacing
// ErrConflict to the caller.
type Service struct {
	Store  store.RequestStore
	Geo    geo.Geo
	Notify relay.Notifier
	Logger *slog.Logger
}

func NewService(st store.RequestStore, g geo.Geo, n relay.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: st, Geo: g, Notify: n, Logger: logger}
}

type CreateInput struct {
	ServiceType        string
	Location           models.Coord
	ProblemDescription string
}

// Create opens a new request in pending state. Only customers create
// requests; provider discovery happens through dispatch afterwards.
func (s *Service) Create(ctx context.Context, ident auth.Identity, in CreateInput) (*models.ServiceRequest, error) {
	const op = "request.Create"
	if ident.Role != auth.RoleCustomer {
		return nil, apperr.Wrap(op, apperr.ErrForbidden)
	}
	st, ok := models.ParseServiceType(in.ServiceType)
	if !ok {
		return nil, apperr.Wrap(op, apperr.ErrValidation)
	}
	if !in.Location.Valid() {
		return nil, apperr.Wrap(op, apperr.ErrValidation)
	}
	r := &models.ServiceRequest{
		ID:                 uuid.NewString(),
		CustomerID:         ident.UserID,
		ServiceType:        st,
		Location:           in.Location,
		ProblemDescription: in.ProblemDescription,
		Status:             models.StatusPending,
		AcceptedProviders:  []string{},
	}
	if err := s.Store.Create(ctx, r); err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	s.Logger.Info("request created", "request_id", r.ID, "service_type", r.ServiceType)
	return r, nil
}

// Accept records a provider's willingness to take the request. Idempotent
// for a provider already in the accepted set; the first acceptance moves
// pending to accepted.
func (s *Service) Accept(ctx context.Context, ident auth.Identity, requestID string) (*models.ServiceRequest, error) {
	const op = "request.Accept"
	if ident.Role != auth.RoleProvider {
		return nil, s.fail(op, apperr.Wrap(op, apperr.ErrForbidden))
	}
	var already bool
	r, err := s.mutate(ctx, requestID, func(r *models.ServiceRequest) error {
		if r.Status != models.StatusPending && r.Status != models.StatusAccepted {
			return apperr.Wrap(op, apperr.ErrInvalidState)
		}
		p, found, err := s.Geo.Lookup(ctx, ident.UserID)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if !found || !p.Verified || !p.Offers(r.ServiceType) {
			return apperr.Wrap(op, apperr.ErrNotEligible)
		}
		if r.HasAccepted(ident.UserID) {
			already = true
			return errNoop
		}
		r.AcceptedProviders = append(r.AcceptedProviders, ident.UserID)
		r.Status = models.StatusAccepted
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	if already {
		// nothing changed; no metric, no re-notification
		return r, nil
	}
	observability.Transitions.WithLabelValues("accept", "ok").Inc()
	s.Notify.NotifyCustomer(ctx, r.CustomerID, models.RequestEvent{
		Type: "request.accepted", RequestID: r.ID, Request: r, ProviderID: ident.UserID,
	})
	return r, nil
}

// Confirm is the customer's selection of exactly one accepted provider.
// The rest of the accepted set is discarded and told so.
func (s *Service) Confirm(ctx context.Context, ident auth.Identity, requestID, providerID string) (*models.ServiceRequest, error) {
	const op = "request.Confirm"
	if ident.Role != auth.RoleCustomer {
		return nil, s.fail(op, apperr.Wrap(op, apperr.ErrForbidden))
	}
	var passedOver []string
	r, err := s.mutate(ctx, requestID, func(r *models.ServiceRequest) error {
		if r.CustomerID != ident.UserID {
			return apperr.Wrap(op, apperr.ErrForbidden)
		}
		if r.Status != models.StatusAccepted {
			return apperr.Wrap(op, apperr.ErrInvalidState)
		}
		if !r.HasAccepted(providerID) {
			return apperr.Wrap(op, apperr.ErrNotAccepted)
		}
		passedOver = passedOver[:0]
		for _, p := range r.AcceptedProviders {
			if p != providerID {
				passedOver = append(passedOver, p)
			}
		}
		r.ConfirmedProviderID = providerID
		r.AcceptedProviders = []string{}
		r.Status = models.StatusConfirmed
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	observability.Transitions.WithLabelValues("confirm", "ok").Inc()
	ev := models.RequestEvent{Type: "request.confirmed", RequestID: r.ID, Request: r, ProviderID: providerID}
	s.Notify.NotifyCustomer(ctx, r.CustomerID, ev)
	s.Notify.NotifyProviders(ctx, []models.Provider{{ID: providerID}}, ev)
	for _, p := range passedOver {
		s.Notify.NotifyProviders(ctx, []models.Provider{{ID: p}}, models.RequestEvent{
			Type: "request.closed", RequestID: r.ID,
		})
	}
	return r, nil
}

// Complete closes a confirmed request. Either the owning customer or the
// confirmed provider may finish it.
func (s *Service) Complete(ctx context.Context, ident auth.Identity, requestID string) (*models.ServiceRequest, error) {
	const op = "request.Complete"
	r, err := s.mutate(ctx, requestID, func(r *models.ServiceRequest) error {
		if r.Status != models.StatusConfirmed {
			return apperr.Wrap(op, apperr.ErrInvalidState)
		}
		if ident.UserID != r.CustomerID && ident.UserID != r.ConfirmedProviderID {
			return apperr.Wrap(op, apperr.ErrForbidden)
		}
		r.Status = models.StatusCompleted
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	observability.Transitions.WithLabelValues("complete", "ok").Inc()
	ev := models.RequestEvent{Type: "request.completed", RequestID: r.ID, Request: r}
	s.Notify.NotifyCustomer(ctx, r.CustomerID, ev)
	s.Notify.NotifyProviders(ctx, []models.Provider{{ID: r.ConfirmedProviderID}}, ev)
	return r, nil
}

// Cancel withdraws a request before confirmation.
func (s *Service) Cancel(ctx context.Context, ident auth.Identity, requestID string) (*models.ServiceRequest, error) {
	const op = "request.Cancel"
	if ident.Role != auth.RoleCustomer {
		return nil, s.fail(op, apperr.Wrap(op, apperr.ErrForbidden))
	}
	var accepted []string
	r, err := s.mutate(ctx, requestID, func(r *models.ServiceRequest) error {
		if r.CustomerID != ident.UserID {
			return apperr.Wrap(op, apperr.ErrForbidden)
		}
		if r.Status != models.StatusPending && r.Status != models.StatusAccepted {
			return apperr.Wrap(op, apperr.ErrInvalidState)
		}
		accepted = append(accepted[:0], r.AcceptedProviders...)
		r.AcceptedProviders = []string{}
		r.Status = models.StatusCanceled
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}
	observability.Transitions.WithLabelValues("cancel", "ok").Inc()
	for _, p := range accepted {
		s.Notify.NotifyProviders(ctx, []models.Provider{{ID: p}}, models.RequestEvent{
			Type: "request.canceled", RequestID: r.ID,
		})
	}
	return r, nil
}

// Get returns a request the caller is allowed to see.
func (s *Service) Get(ctx context.Context, ident auth.Identity, requestID string) (*models.ServiceRequest, error) {
	const op = "request.Get"
	r, err := s.Store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !s.canSee(ident, r) {
		return nil, apperr.Wrap(op, apperr.ErrForbidden)
	}
	return r, nil
}

// List scopes results by the caller's role. Providers asking for pending
// work get the pull path: open requests matching their capability set,
// regardless of whether the original dispatch reached them.
func (s *Service) List(ctx context.Context, ident auth.Identity, status models.Status) ([]*models.ServiceRequest, error) {
	switch ident.Role {
	case auth.RoleCustomer:
		return s.Store.ListByCustomer(ctx, ident.UserID, status)
	case auth.RoleProvider:
		if status == models.StatusPending || status == "" {
			return s.listOpenForProvider(ctx, ident.UserID, status)
		}
		return s.Store.ListByProvider(ctx, ident.UserID, status)
	case auth.RoleAdmin:
		return s.Store.ListAll(ctx, status)
	}
	return nil, apperr.Wrap("request.List", apperr.ErrForbidden)
}

func (s *Service) listOpenForProvider(ctx context.Context, providerID string, status models.Status) ([]*models.ServiceRequest, error) {
	mine, err := s.Store.ListByProvider(ctx, providerID, status)
	if err != nil {
		return nil, err
	}
	p, found, err := s.Geo.Lookup(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !found || !p.Verified {
		return mine, nil
	}
	seen := make(map[string]struct{}, len(mine))
	for _, r := range mine {
		seen[r.ID] = struct{}{}
	}
	for _, st := range p.Services {
		open, err := s.Store.ListPending(ctx, st)
		if err != nil {
			return nil, err
		}
		for _, r := range open {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			if status != "" && r.Status != status {
				continue
			}
			seen[r.ID] = struct{}{}
			mine = append(mine, r)
		}
	}
	return mine, nil
}

func (s *Service) canSee(ident auth.Identity, r *models.ServiceRequest) bool {
	switch ident.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleCustomer:
		return r.CustomerID == ident.UserID
	case auth.RoleProvider:
		return r.HasAccepted(ident.UserID) ||
			r.ConfirmedProviderID == ident.UserID ||
			r.Status == models.StatusPending || r.Status == models.StatusAccepted
	}
	return false
}

// errNoop signals that the transition is already applied and no write is
// needed (idempotent accept).
var errNoop = errors.New("noop")

func (s *Service) mutate(ctx context.Context, requestID string, fn func(*models.ServiceRequest) error) (*models.ServiceRequest, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		r, err := s.Store.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if err := fn(r); err != nil {
			if errors.Is(err, errNoop) {
				return r, nil
			}
			return nil, err
		}
		if err := s.Store.Update(ctx, r); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return r, nil
	}
	return nil, lastErr
}

func (s *Service) fail(op string, err error) error {
	observability.Transitions.WithLabelValues(opLabel(op), "error").Inc()
	return err
}

func opLabel(op string) string {
	switch op {
	case "request.Accept":
		return "accept"
	case "request.Confirm":
		return "confirm"
	case "request.Complete":
		return "complete"
	case "request.Cancel":
		return "cancel"
	}
	return "other"
}
