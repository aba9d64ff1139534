// Package calendarapi is the HTTP transport of the calendar: accounts,
// companies, the week layout, manual entry, drag gestures and the live grid.
package calendarapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/dragcal/project/internal/app/drag"
	"github.com/dragcal/project/internal/app/eventstore"
	"github.com/dragcal/project/internal/app/identity"
	"github.com/dragcal/project/internal/app/schedule"
	"github.com/dragcal/project/internal/app/workspace"
	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/config"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/metrics"
	platformauth "github.com/dragcal/project/internal/platform/auth"
	"github.com/dragcal/project/services/frontend"
	"github.com/go-chi/chi/v5"
)

var errViewNotMounted = errors.New("calendar is not open; connect to the stream first")

type Handler struct {
	Identity      *identity.Service
	Workspace     *workspace.Registry
	Mounts        *workspace.Mounts
	Grid          config.Grid
	Location      *time.Location
	Now           func() time.Time
	AllowedOrigin string
	Logger        *slog.Logger
	// Ready reports whether the backing services are reachable.
	Ready func(ctx context.Context) error
}

func NewHandler(identitySvc *identity.Service, registry *workspace.Registry, grid config.Grid, allowedOrigin string, logger *slog.Logger) *Handler {
	return &Handler{
		Identity:      identitySvc,
		Workspace:     registry,
		Mounts:        workspace.NewMounts(),
		Grid:          grid,
		Location:      time.Local,
		Now:           time.Now,
		AllowedOrigin: allowedOrigin,
		Logger:        logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", metrics.DefaultHandler())
	r.Handle("/static/*", http.StripPrefix("/static/", frontend.StaticHandler()))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app", http.StatusFound)
	})
	r.Handle("/login", templ.Handler(frontend.LoginPage()))
	r.Handle("/app", templ.Handler(frontend.CalendarPage()))
	r.Get("/register/{token}", func(w http.ResponseWriter, r *http.Request) {
		templ.Handler(frontend.RegisterPage(chi.URLParam(r, "token"))).ServeHTTP(w, r)
	})

	r.Post("/api/v1/auth/sign-up", h.handleSignUp)
	r.Post("/api/v1/auth/sign-in", h.handleSignIn)
	r.Post("/api/v1/auth/refresh", h.handleRefresh)
	r.Post("/api/v1/auth/sign-out", h.handleSignOut)
	r.Get("/api/v1/invites/{token}", h.handleLookupInvite)
	r.Post("/api/v1/invites/redeem", h.handleRedeemInvite)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Get("/api/v1/companies", h.handleListCompanies)
		authR.Post("/api/v1/companies", h.handleCreateCompany)
		authR.Post("/api/v1/companies/{companyID}/invites", h.handleCreateInvite)

		authR.Route("/api/v1/calendars/{scope}", func(cr chi.Router) {
			cr.Use(h.scopeMiddleware)
			cr.Get("/week", h.handleWeek)
			cr.Post("/events", h.handleCreateEvent)
			cr.Patch("/events/{eventID}", h.handleUpdateEvent)
			cr.Post("/navigate", h.handleNavigate)
			cr.Post("/drag/start", h.handleDragStart)
			cr.Post("/drag/drop", h.handleDragDrop)
			cr.Post("/drag/cancel", h.handleDragCancel)
			cr.Get("/export.ics", h.handleExport)
			cr.Get("/stream", h.handleStream)
		})
	})

	return r
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type createCompanyRequest struct {
	Name string `json:"name"`
}

type createInviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type redeemInviteRequest struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type inviteResponse struct {
	Token     string `json:"token"`
	Email     string `json:"email"`
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
	Link      string `json:"link,omitempty"`
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleSignOut revokes the refresh token. When the request also carries a
// valid access token, the caller's open calendars are unmounted.
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Identity.SignOut(r.Context(), req.RefreshToken); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if claims, err := h.Identity.AuthToken.Parse(platformauth.BearerToken(r.Header.Get("Authorization"))); err == nil {
		prefix := claims.Subject + "|"
		closed := h.Mounts.CloseAll(func(key string) bool { return strings.HasPrefix(key, prefix) })
		logging.Component(r.Context(), h.Logger, "calendarapi", "sign-out", "user_id", claims.Subject).Info("signed out", "views_closed", closed)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	companies, err := h.Identity.ListCompanies(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if companies == nil {
		companies = []identity.Membership{}
	}
	h.writeJSON(w, http.StatusOK, companies)
}

func (h *Handler) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	company, err := h.Identity.CreateCompany(r.Context(), claims.Subject, req.Name)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, company)
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	inv, err := h.Identity.CreateInvite(r.Context(), claims.Subject, chi.URLParam(r, "companyID"), req.Email, req.Role)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, inviteResponse{
		Token:     inv.Token,
		Email:     inv.Email,
		CompanyID: inv.CompanyID,
		Role:      inv.Role,
		Link:      "/register/" + url.PathEscape(inv.Token),
	})
}

func (h *Handler) handleLookupInvite(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Identity.LookupInvite(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inviteResponse{Email: inv.Email, CompanyID: inv.CompanyID, Role: inv.Role})
}

func (h *Handler) handleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req redeemInviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Identity.RedeemInvite(r.Context(), req.Token, req.Email, req.Password)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, datastar-request")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	return a.Port() == b.Port() && strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

type claimsContextKey struct{}
type scopeContextKey struct{}

// authMiddleware accepts the access token from the Authorization header or,
// for links and event streams, from the token query parameter.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.AuthToken.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) scopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, err := calendar.ParseScope(chi.URLParam(r, "scope"))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		claims := claimsFromContext(r.Context())
		if err := h.Identity.AuthorizeScope(r.Context(), claims.Subject, scope); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), scopeContextKey{}, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}

func scopeFromContext(ctx context.Context) calendar.Scope {
	scope, _ := ctx.Value(scopeContextKey{}).(calendar.Scope)
	return scope
}

// mountKey identifies one client's view of one scope.
func mountKey(userID string, scope calendar.Scope) string {
	return userID + "|" + scope.Key()
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps an error from the identity, schedule or drag layers
// to a status code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *calendar.ValidationError
	var serr *schedule.StoreError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "field_errors": verr.FieldErrors})
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrInvalidPassword),
		errors.Is(err, identity.ErrInvalidCompanyName), errors.Is(err, identity.ErrInvalidCompanyID),
		errors.Is(err, identity.ErrInvalidRole), errors.Is(err, identity.ErrRefreshTokenMissing),
		errors.Is(err, identity.ErrInviteEmailMismatch), errors.Is(err, drag.ErrInvalidTarget):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidRefreshToken):
		h.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrForbiddenCompany), errors.Is(err, identity.ErrForbiddenRole),
		errors.Is(err, identity.ErrForbiddenScope):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrInviteNotFound), errors.Is(err, identity.ErrNotFound),
		errors.Is(err, schedule.ErrUnknownEvent), errors.Is(err, drag.ErrUnknownEvent),
		errors.Is(err, eventstore.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrEmailTaken), errors.Is(err, drag.ErrGestureActive),
		errors.Is(err, drag.ErrNotDragging), errors.Is(err, errViewNotMounted):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &serr):
		h.writeError(w, http.StatusBadGateway, "event store unavailable")
	default:
		logging.Component(r.Context(), h.Logger, "calendarapi", r.URL.Path).Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
