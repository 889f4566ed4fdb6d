package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/ratelimit"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 * 1024

// Error kinds returned in the response envelope
const (
	kindValidation       = "validation"
	kindNotFound         = "not_found"
	kindDuplicate        = "duplicate"
	kindAlreadyResponded = "already_responded"
	kindInactive         = "inactive"
	kindForbidden        = "forbidden"
	kindUnauthorized     = "unauthorized"
	kindRateLimited      = "rate_limited"
	kindUnavailable      = "unavailable"
	kindInternal         = "internal"
)

type successResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorResponse struct {
	Success bool                `json:"success"`
	Error   string              `json:"error"`
	Kind    string              `json:"kind"`
	Fields  []crisis.FieldError `json:"fields,omitempty"`
}

// ServeHTTP handles HTTP requests for the plugin.
// The root URL is currently <siteUrl>/plugins/com.mattermost.plugin-crisis-alerts/api/v1/.
func (p *Plugin) ServeHTTP(c *plugin.Context, w http.ResponseWriter, r *http.Request) {
	if p.router == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, "plugin is not ready")
		return
	}
	p.router.ServeHTTP(w, r)
}

func (p *Plugin) initRouter() http.Handler {
	router := mux.NewRouter()

	// Middleware to require that the user is logged in
	router.Use(p.MattermostAuthorizationRequired)
	router.Use(p.observeRequests)
	router.Use(p.rateLimit(ratelimit.CategoryAPI))

	api := router.PathPrefix("/api/v1").Subrouter()

	api.Handle("/alerts", p.limited(ratelimit.CategoryAlerts, p.handleCreateAlert)).Methods(http.MethodPost)
	api.HandleFunc("/alerts", p.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{alertId}", p.handleGetAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{alertId}", p.handleDeleteAlert).Methods(http.MethodDelete)

	api.Handle("/verify/alert/{alertId}", p.limited(ratelimit.CategoryVerifications, p.handleSubmitVerification)).Methods(http.MethodPost)
	api.HandleFunc("/verify/alert/{alertId}", p.handleGetVerifications).Methods(http.MethodGet)

	api.Handle("/sos", p.limited(ratelimit.CategorySOS, p.handleCreateSOS)).Methods(http.MethodPost)
	api.HandleFunc("/sos/nearby", p.handleNearbySOS).Methods(http.MethodGet)
	api.HandleFunc("/sos/{sosId}/respond", p.handleRespondSOS).Methods(http.MethodPost)
	api.HandleFunc("/sos/{sosId}/status", p.handleUpdateSOSStatus).Methods(http.MethodPut)

	api.Handle("/missing-persons", p.limited(ratelimit.CategoryAlerts, p.handleCreateMissingPerson)).Methods(http.MethodPost)
	api.HandleFunc("/missing-persons", p.handleListMissingPersons).Methods(http.MethodGet)
	api.HandleFunc("/missing-persons/{caseId}", p.handleUpdateMissingPerson).Methods(http.MethodPut)

	api.HandleFunc("/users/me", p.handleGetMe).Methods(http.MethodGet)

	api.HandleFunc("/system/config", p.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/system/status", p.handleGetStatus).Methods(http.MethodGet)
	api.HandleFunc("/system/stats", p.handleGetStats).Methods(http.MethodGet)

	api.Handle("/metrics", p.adminOnly(p.metrics.Handler())).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, kindNotFound, "route not found")
	})

	return router
}

func (p *Plugin) MattermostAuthorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("Mattermost-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, kindUnauthorized, "Not authorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observeRequests records request counts and latencies by route template
func (p *Plugin) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		p.metrics.ObserveRequest(route, r.Method, rec.status, time.Since(started))
	})
}

func (p *Plugin) rateLimit(category ratelimit.Category) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p.getConfiguration().rateLimitEnabled() && !p.limiter.Allow(userIDFrom(r), category) {
				p.metrics.IncRateLimited(string(category))
				writeError(w, http.StatusTooManyRequests, kindRateLimited, "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (p *Plugin) limited(category ratelimit.Category, handler http.HandlerFunc) http.Handler {
	return p.rateLimit(category)(handler)
}

func (p *Plugin) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !p.API.HasPermissionTo(userIDFrom(r), model.PermissionManageSystem) {
			writeError(w, http.StatusForbidden, kindForbidden, "System admin permission required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userIDFrom(r *http.Request) string {
	return r.Header.Get("Mattermost-User-ID")
}

// decodeBody decodes a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return crisis.NewValidationError("body", "must be a valid JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// handleError maps a service error onto the response envelope.
// Store failures are logged and never described to the client.
func (p *Plugin) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *crisis.ValidationError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "Validation failed",
			Kind:   kindValidation,
			Fields: validationErr.Fields,
		})
	case errors.Is(err, crisis.ErrAlertNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, "Alert not found or expired")
	case errors.Is(err, crisis.ErrSOSNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, "SOS not found or expired")
	case errors.Is(err, crisis.ErrCaseNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, "Case not found or expired")
	case errors.Is(err, crisis.ErrDuplicateVerification):
		writeError(w, http.StatusConflict, kindDuplicate, "You have already verified this alert")
	case errors.Is(err, crisis.ErrAlreadyResponded):
		writeError(w, http.StatusConflict, kindAlreadyResponded, "You have already responded to this SOS")
	case errors.Is(err, crisis.ErrSOSInactive):
		writeError(w, http.StatusConflict, kindInactive, "SOS is no longer active")
	case errors.Is(err, crisis.ErrForbidden):
		writeError(w, http.StatusForbidden, kindForbidden, "Not authorized")
	case errors.Is(err, crisis.ErrStoreUnavailable):
		p.client.Log.Error("Store unavailable", "path", r.URL.Path, "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, "Service temporarily unavailable")
	default:
		p.client.Log.Error("Unexpected API error", "path", r.URL.Path, "error", err.Error())
		writeError(w, http.StatusInternalServerError, kindInternal, "Internal server error")
	}
}

func (p *Plugin) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req crisis.CreateAlertRequest
	if err := decodeBody(w, r, &req); err != nil {
		p.handleError(w, r, err)
		return
	}

	alert, err := p.alertService.Create(r.Context(), userIDFrom(r), req)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	p.metrics.IncAlertCreated(alert.Type, alert.Severity)
	writeData(w, http.StatusCreated, alert)
}

func (p *Plugin) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	query, err := parseAlertQuery(r)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	page, err := p.alertService.List(r.Context(), query)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, page)
}

func (p *Plugin) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := p.alertService.Get(r.Context(), mux.Vars(r)["alertId"])
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, alert)
}

func (p *Plugin) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alertId"]
	if err := p.alertService.Delete(r.Context(), alertID, userIDFrom(r)); err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"alertId": alertID})
}

func (p *Plugin) handleSubmitVerification(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alertId"]
	if err := crisis.ValidateID("alertId", alertID); err != nil {
		p.handleError(w, r, err)
		return
	}

	var payload crisis.VerificationPayload
	if err := decodeBody(w, r, &payload); err != nil {
		p.handleError(w, r, err)
		return
	}

	result, err := p.engine.SubmitVerification(r.Context(), alertID, userIDFrom(r), payload)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, result)
}

func (p *Plugin) handleGetVerifications(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["alertId"]
	if err := crisis.ValidateID("alertId", alertID); err != nil {
		p.handleError(w, r, err)
		return
	}

	result, err := p.engine.GetAlertVerifications(r.Context(), alertID)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, result)
}

func (p *Plugin) handleCreateSOS(w http.ResponseWriter, r *http.Request) {
	var req crisis.CreateSOSRequest
	if err := decodeBody(w, r, &req); err != nil {
		p.handleError(w, r, err)
		return
	}

	sos, err := p.sosService.Create(r.Context(), userIDFrom(r), req)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	p.metrics.IncSOSCreated(sos.Priority)
	writeData(w, http.StatusCreated, sos)
}

func (p *Plugin) handleNearbySOS(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	if values.Get("lat") == "" || values.Get("lng") == "" {
		p.handleError(w, r, crisis.NewValidationError("lat", "lat and lng are required"))
		return
	}

	var query crisis.NearbyQuery
	var err error
	if query.Location.Latitude, err = parseFloat(values, "lat"); err != nil {
		p.handleError(w, r, err)
		return
	}
	if query.Location.Longitude, err = parseFloat(values, "lng"); err != nil {
		p.handleError(w, r, err)
		return
	}
	if values.Get("radius") != "" {
		if query.RadiusKm, err = parseFloat(values, "radius"); err != nil {
			p.handleError(w, r, err)
			return
		}
	}

	result, err := p.sosService.Nearby(r.Context(), query)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, map[string]any{"sos": result})
}

func (p *Plugin) handleRespondSOS(w http.ResponseWriter, r *http.Request) {
	var req crisis.RespondSOSRequest
	if err := decodeBody(w, r, &req); err != nil {
		p.handleError(w, r, err)
		return
	}

	count, err := p.sosService.Respond(r.Context(), mux.Vars(r)["sosId"], userIDFrom(r), req)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	p.metrics.IncSOSResponse()
	writeData(w, http.StatusOK, map[string]int{"responderCount": count})
}

func (p *Plugin) handleUpdateSOSStatus(w http.ResponseWriter, r *http.Request) {
	var req crisis.UpdateSOSStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		p.handleError(w, r, err)
		return
	}

	sos, err := p.sosService.UpdateStatus(r.Context(), mux.Vars(r)["sosId"], userIDFrom(r), req)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, sos)
}

func (p *Plugin) handleCreateMissingPerson(w http.ResponseWriter, r *http.Request) {
	var req crisis.CreateMissingPersonRequest
	if err := decodeBody(w, r, &req); err != nil {
		p.handleError(w, r, err)
		return
	}

	m, err := p.missingCases.Create(r.Context(), userIDFrom(r), req)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, m)
}

func (p *Plugin) handleListMissingPersons(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	query := crisis.MissingQuery{Status: crisis.CaseStatus(values.Get("status"))}

	for _, name := range []string{"lat", "lng"} {
		if values.Get(name) == "" {
			continue
		}
		f, err := parseFloat(values, name)
		if err != nil {
			p.handleError(w, r, err)
			return
		}
		if name == "lat" {
			query.Latitude = &f
		} else {
			query.Longitude = &f
		}
	}
	if values.Get("radius") != "" {
		radius, err := parseFloat(values, "radius")
		if err != nil {
			p.handleError(w, r, err)
			return
		}
		query.RadiusKm = radius
	}

	cases, err := p.missingCases.List(r.Context(), query)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, map[string]any{"cases": cases})
}

func (p *Plugin) handleUpdateMissingPerson(w http.ResponseWriter, r *http.Request) {
	var req crisis.UpdateCaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		p.handleError(w, r, err)
		return
	}

	m, err := p.missingCases.UpdateStatus(r.Context(), mux.Vars(r)["caseId"], userIDFrom(r), req)
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, m)
}

func (p *Plugin) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := p.userStore.GetUser(r.Context(), userIDFrom(r))
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, user)
}

func (p *Plugin) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, p.getConfiguration().public())
}

func (p *Plugin) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := p.sweeper.Status(r.Context())
	if err != nil {
		p.handleError(w, r, err)
		return
	}

	// Failure details may describe the store
	if !p.API.HasPermissionTo(userIDFrom(r), model.PermissionManageSystem) {
		status.LastError = ""
	}

	writeData(w, http.StatusOK, map[string]any{"sweeper": status})
}

// parseAlertQuery reads alert listing filters from the query string
func parseAlertQuery(r *http.Request) (crisis.AlertQuery, error) {
	values := r.URL.Query()
	var query crisis.AlertQuery

	for _, name := range []string{"lat", "lng"} {
		if values.Get(name) == "" {
			continue
		}
		f, err := parseFloat(values, name)
		if err != nil {
			return query, err
		}
		if name == "lat" {
			query.Latitude = &f
		} else {
			query.Longitude = &f
		}
	}

	if values.Get("radius") != "" {
		radius, err := parseFloat(values, "radius")
		if err != nil {
			return query, err
		}
		query.RadiusKm = radius
	}

	if types := values.Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			query.Types = append(query.Types, crisis.AlertType(strings.TrimSpace(t)))
		}
	}
	query.Severity = crisis.Severity(values.Get("severity"))

	var err error
	if query.Page, err = parseInt(values, "page"); err != nil {
		return query, err
	}
	if query.Limit, err = parseInt(values, "limit"); err != nil {
		return query, err
	}

	return query, nil
}

func parseFloat(values map[string][]string, name string) (float64, error) {
	raw := ""
	if v := values[name]; len(v) > 0 {
		raw = v[0]
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, crisis.NewValidationError(name, "must be a number")
	}
	return f, nil
}

func parseInt(values map[string][]string, name string) (int, error) {
	v := values[name]
	if len(v) == 0 || v[0] == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v[0])
	if err != nil {
		return 0, crisis.NewValidationError(name, "must be an integer")
	}
	return n, nil
}
