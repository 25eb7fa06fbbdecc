package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/roadassist/internal/apperr"
	"github.com/example/roadassist/internal/auth"
	"github.com/example/roadassist/internal/config"
	"github.com/example/roadassist/internal/eta"
	"github.com/example/roadassist/internal/geo"
	"github.com/example/roadassist/internal/ingest"
	"github.com/example/roadassist/internal/logging"
	"github.com/example/roadassist/internal/match"
	"github.com/example/roadassist/internal/models"
	"github.com/example/roadassist/internal/relay"
	"github.com/example/roadassist/internal/request"
	"github.com/example/roadassist/internal/store"
	"github.com/example/roadassist/internal/validate"
)

type Server struct {
	Requests *request.Service
	Matcher  *match.Service
	Geo      geo.Geo
	Gate     *auth.Gate
	Registry *relay.Registry
	Kafka    *ingest.KafkaProducer

	logger *slog.Logger
	mux    *mux.Router
	ready  []func(r *http.Request) error
}

// Deps carries everything a Server needs; tests build it directly,
// production goes through NewServerFromConfig.
type Deps struct {
	Requests *request.Service
	Matcher  *match.Service
	Geo      geo.Geo
	Gate     *auth.Gate
	Registry *relay.Registry
	Kafka    *ingest.KafkaProducer
	Logger   *slog.Logger
	Ready    []func(r *http.Request) error
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		Requests: d.Requests,
		Matcher:  d.Matcher,
		Geo:      d.Geo,
		Gate:     d.Gate,
		Registry: d.Registry,
		Kafka:    d.Kafka,
		logger:   d.Logger,
		mux:      mux.NewRouter(),
		ready:    d.Ready,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig wires the production dependency graph: Redis geo and
// Postgres store when configured, in-memory fallbacks otherwise.
func NewServerFromConfig(cfg config.ServerConfig) *Server {
	logger := logging.NewLogger(cfg.LogLevel)

	var ggeo geo.Geo
	var ready []func(r *http.Request) error
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoPrefix)
		ggeo = rg
		ready = append(ready, func(r *http.Request) error { return rg.Ping(r.Context()) })
	} else {
		ggeo = geo.NewIndex()
	}

	var st store.RequestStore
	if cfg.PGDSN != "" {
		if ps, err := store.NewPostgresStore(cfg.PGDSN); err == nil {
			st = ps
			ready = append(ready, func(r *http.Request) error { return ps.Ping(r.Context()) })
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	reg := relay.NewRegistry()
	var push relay.Pusher
	if cfg.FCMEndpoint != "" {
		push = relay.NewFCMPusher(cfg.FCMEndpoint, cfg.FCMKey)
	}
	rel := relay.New(reg, push, logger)

	var etaClient eta.Client
	if cfg.OSRMEndpoint != "" {
		etaClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	matcher := &match.Service{
		Geo:             ggeo,
		Notify:          rel,
		RadiusMeters:    cfg.MatchRadiusMeters,
		CandidateCap:    cfg.MatchCandidateCap,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		ETAClient:       etaClient,
		ETACache:        eta.NewCache(cfg.ETACacheTTL),
		Logger:          logger,
	}

	return NewServer(Deps{
		Requests: request.NewService(st, ggeo, rel, logger),
		Matcher:  matcher,
		Geo:      ggeo,
		Gate:     auth.NewGate(cfg.JWTSecret, cfg.JWTExpiry),
		Registry: reg,
		Kafka:    kp,
		Logger:   logger,
		Ready:    ready,
	})
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests", s.handleListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/retry", s.handleRetryDispatch).Methods(http.MethodPost)

	s.mux.HandleFunc("/internal/provider/locations", s.handleProviderLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRequestPayload struct {
	ServiceType string `json:"service_type" validate:"required,servicetype"`
	Location    struct {
		Lat float64 `json:"lat" validate:"lat"`
		Lng float64 `json:"lng" validate:"lng"`
	} `json:"location"`
	ProblemDescription string `json:"problem_description" validate:"max=2000"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	var in createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, apperr.Wrap("decode body", apperr.ErrValidation))
		return
	}
	if err := validate.Struct(in); err != nil {
		s.writeError(w, r, apperr.Wrap("validate body", apperr.ErrValidation))
		return
	}
	req, err := s.Requests.Create(r.Context(), ident, request.CreateInput{
		ServiceType:        in.ServiceType,
		Location:           models.Coord{Lat: in.Location.Lat, Lng: in.Location.Lng},
		ProblemDescription: in.ProblemDescription,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	notified, err := s.Matcher.Dispatch(r.Context(), req)
	if err != nil {
		// the request exists; dispatch failure must not fail creation
		s.logger.Error("dispatch after create failed", "request_id", req.ID, "error", err)
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"request":            req,
		"notified_providers": notified,
	})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	var status models.Status
	if q := r.URL.Query().Get("status"); q != "" {
		st, ok := models.ParseStatus(q)
		if !ok {
			s.writeError(w, r, apperr.Wrap("parse status", apperr.ErrValidation))
			return
		}
		status = st
	}
	out, err := s.Requests.List(r.Context(), ident, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	req, err := s.Requests.Get(r.Context(), ident, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	req, err := s.Requests.Accept(r.Context(), ident, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	var in struct {
		ProviderID string `json:"provider_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ProviderID == "" {
		s.writeError(w, r, apperr.Wrap("decode body", apperr.ErrValidation))
		return
	}
	req, err := s.Requests.Confirm(r.Context(), ident, mux.Vars(r)["id"], in.ProviderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	req, err := s.Requests.Complete(r.Context(), ident, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	req, err := s.Requests.Cancel(r.Context(), ident, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"request": req})
}

// handleRetryDispatch re-runs matching for a request that is still open.
// Radius does not grow; this is the manual retry hook for requests nobody
// was around to take the first time.
func (s *Server) handleRetryDispatch(w http.ResponseWriter, r *http.Request) {
	ident := identityFromContext(r.Context())
	req, err := s.Requests.Get(r.Context(), ident, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ident.Role == auth.RoleCustomer && req.CustomerID != ident.UserID {
		s.writeError(w, r, apperr.Wrap("retry", apperr.ErrForbidden))
		return
	}
	if req.Status != models.StatusPending && req.Status != models.StatusAccepted {
		s.writeError(w, r, apperr.Wrap("retry", apperr.ErrInvalidState))
		return
	}
	notified, err := s.Matcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"notified_providers": notified})
}

// handleProviderLocation sits on the trusted internal surface; the edge
// never routes it. Updates flow to Kafka when configured and to the geo
// index directly so local runs work without a broker.
func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	var p models.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, r, apperr.Wrap("decode body", apperr.ErrValidation))
		return
	}
	if p.ID == "" || !p.Loc.Valid() {
		s.writeError(w, r, apperr.Wrap("provider payload", apperr.ErrValidation))
		return
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishProvider(p); err != nil {
			s.logger.Warn("kafka publish failed", "provider_id", p.ID, "error", err)
		}
	}
	if err := s.Geo.UpsertProvider(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.ready {
		if err := check(r); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{}

type wsControl struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	Channel string `json:"channel"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	ident, err := s.Gate.Authenticate(token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the response
	}
	sess := s.Registry.Add(ident.UserID, conn)
	s.logger.Info("ws session opened", "user_id", ident.UserID, "role", ident.Role)

	go func() {
		// the request context dies with the handler; the hijacked
		// connection outlives it
		ctx := context.Background()
		defer func() {
			s.Registry.Remove(ident.UserID, sess)
			_ = conn.Close()
			s.logger.Info("ws session closed", "user_id", ident.UserID)
		}()
		for {
			var ctl wsControl
			if err := conn.ReadJSON(&ctl); err != nil {
				return
			}
			switch ctl.Action {
			case "subscribe":
				if s.allowedChannel(ctx, ident, ctl.Channel) {
					sess.Subscribe(ctl.Channel)
				}
			case "unsubscribe":
				sess.Unsubscribe(ctl.Channel)
			}
		}
	}()
}

// allowedChannel keeps providers on service-type feeds and customers on
// their own request feeds. Update channels carry the full request payload,
// so a customer must own the request they subscribe to. Admins may watch
// anything.
func (s *Server) allowedChannel(ctx context.Context, ident auth.Identity, channel string) bool {
	switch {
	case ident.Role == auth.RoleAdmin:
		return true
	case strings.HasPrefix(channel, "requests:new:"):
		return ident.Role == auth.RoleProvider
	case strings.HasPrefix(channel, "requests:update:"):
		if ident.Role != auth.RoleCustomer {
			return false
		}
		id := strings.TrimPrefix(channel, "requests:update:")
		req, err := s.Requests.Get(ctx, ident, id)
		return err == nil && req.CustomerID == ident.UserID
	}
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, map[string]any{"error": errorBody{
		Code:    apperr.Code(err),
		Message: err.Error(),
	}})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
