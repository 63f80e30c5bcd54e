// Package api exposes the timeline hierarchy and permission resolver
// over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trellishq/trellis/pkg/access"
	"github.com/trellishq/trellis/pkg/httputil"
	"github.com/trellishq/trellis/pkg/observability"
	"github.com/trellishq/trellis/pkg/orgs"
	"github.com/trellishq/trellis/pkg/policy"
	"github.com/trellishq/trellis/pkg/timeline"
	"github.com/trellishq/trellis/pkg/users"
)

// Server routes timeline, organization, policy and access-check
// requests to the underlying stores.
type Server struct {
	router *mux.Router

	nodes    *timeline.Store
	orgs     *orgs.Store
	policies *policy.Store
	users    *users.Store

	resolver *access.Resolver
	filter   *access.BatchFilter
	cache    access.DecisionCache

	logger  *observability.Logger
	metrics *observability.Metrics
}

// Deps carries everything the server needs. Cache and Metrics may be
// nil; the server then skips invalidation and instrumentation.
type Deps struct {
	Nodes    *timeline.Store
	Orgs     *orgs.Store
	Policies *policy.Store
	Users    *users.Store

	Resolver *access.Resolver
	Filter   *access.BatchFilter
	Cache    access.DecisionCache

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewServer creates the API server and wires up its routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		nodes:    deps.Nodes,
		orgs:     deps.Orgs,
		policies: deps.Policies,
		users:    deps.Users,
		resolver: deps.Resolver,
		filter:   deps.Filter,
		cache:    deps.Cache,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.subjectMiddleware)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Node routes
	v1.HandleFunc("/nodes", s.createNode).Methods("POST")
	v1.HandleFunc("/nodes/{id}", s.getNode).Methods("GET")
	v1.HandleFunc("/nodes/{id}", s.deleteNode).Methods("DELETE")
	v1.HandleFunc("/nodes/{id}/move", s.moveNode).Methods("POST")
	v1.HandleFunc("/nodes/{id}/ancestors", s.getAncestors).Methods("GET")
	v1.HandleFunc("/nodes/{id}/descendants", s.getDescendants).Methods("GET")
	v1.HandleFunc("/nodes/{id}/children", s.getChildren).Methods("GET")

	// Policy routes
	v1.HandleFunc("/nodes/{id}/policies", s.setPolicies).Methods("PUT")
	v1.HandleFunc("/nodes/{id}/policies", s.getPolicies).Methods("GET")
	v1.HandleFunc("/nodes/{id}/policies/{policyId}", s.deletePolicy).Methods("DELETE")

	// Access routes
	v1.HandleFunc("/nodes/{id}/access", s.checkAccess).Methods("GET")
	v1.HandleFunc("/access/batch", s.batchAccess).Methods("POST")
	v1.HandleFunc("/users/{id}/timeline", s.getVisibleTimeline).Methods("GET")

	// Organization routes
	v1.HandleFunc("/orgs", s.createOrg).Methods("POST")
	v1.HandleFunc("/orgs/{id}", s.getOrg).Methods("GET")
	v1.HandleFunc("/orgs/{id}/members", s.listMembers).Methods("GET")
	v1.HandleFunc("/orgs/{id}/members", s.addMember).Methods("POST")
	v1.HandleFunc("/orgs/{id}/members/{userId}", s.updateMemberRole).Methods("PUT")
	v1.HandleFunc("/orgs/{id}/members/{userId}", s.removeMember).Methods("DELETE")

	// User routes
	v1.HandleFunc("/users", s.upsertUser).Methods("POST")
	v1.HandleFunc("/users/{id}", s.getUser).Methods("GET")
	v1.HandleFunc("/users/{id}/orgs", s.listUserOrgs).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler wraps the server with the standard middleware stack and
// OpenTelemetry instrumentation.
func (s *Server) Handler(maxBodyBytes int64) http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	return otelhttp.NewHandler(chain(s), "trellis.api")
}

// writeDomainError maps store sentinel errors to HTTP status codes.
// Anything unrecognized is a 500; the detail goes to the log, not the
// client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case timeline.IsNotFound(err), policy.IsNotFound(err), orgs.IsNotFound(err), users.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case timeline.IsInvalidParent(err), timeline.IsCycle(err):
		httputil.WriteValidationError(w, err.Error())
	case timeline.IsValidation(err), policy.IsValidation(err), orgs.IsValidation(err):
		httputil.WriteValidationError(w, err.Error())
	default:
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}

// invalidateAllDecisions drops every cached decision. Membership
// changes shift org-scoped grants across an unknown set of nodes, so
// per-node invalidation cannot cover them.
func (s *Server) invalidateAllDecisions(r *http.Request) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(r.Context()); err != nil {
		s.logger.WithError(err).Warn("decision cache invalidation failed")
	}
}

// invalidateNodes drops cached decisions for the given nodes. Failures
// are logged and swallowed: the cache is disposable and a stale entry
// expires with its TTL.
func (s *Server) invalidateNodes(r *http.Request, nodeIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range nodeIDs {
		if err := s.cache.InvalidateNode(r.Context(), id); err != nil {
			s.logger.WithError(err).WithField("node_id", id).Warn("decision cache invalidation failed")
		}
	}
}
