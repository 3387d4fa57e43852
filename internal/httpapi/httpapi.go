package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"optica/backend/internal/apperror"
	"optica/backend/internal/domain"
	"optica/backend/internal/folio"
	"optica/backend/internal/service"
	"optica/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *keyedLimiter
	pinLimiter    *keyedLimiter
	csrfSecret    []byte
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newKeyedLimiter(5, time.Minute),
		pinLimiter:    newKeyedLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		logger:        logger.Named("http"),
	}
}

// csrfTokenForHour computes a hex HMAC-SHA256 token for an hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

// keyedLimiter holds one token bucket per client key. Buckets idle for a
// whole window are full again and get dropped on the next sweep.
type keyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	window    time.Duration
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(max int, window time.Duration) *keyedLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &keyedLimiter{
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		window:  window,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *keyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.window {
		for k, entry := range l.entries {
			if now.Sub(entry.lastSeen) >= l.window {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *keyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/complete", a.requireAuth(a.handleCompleteSale, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/reopen", a.requireAuth(a.handleReopenSale, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/sales/{id}/payments", a.requireAuth(a.handleListPayments, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/payments", a.requireAuth(a.handleRecordPayment, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/sales/{id}/balance", a.requireAuth(a.handleBalance, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/sales/{id}/auto-complete", a.requireAuth(a.handleAutoComplete, domain.RoleVendor, domain.RoleAdmin))

	mux.HandleFunc("PATCH /api/v1/payments/{id}", a.requireAuth(a.handleUpdatePayment, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("DELETE /api/v1/payments/{id}", a.requireAuth(a.handleDeletePayment, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/folio-config", a.requireAuth(a.handleGetFolioConfig, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("PUT /api/v1/folio-config", a.requireAuth(a.handleUpdateFolioConfig, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/reports/debt", a.requireAuth(a.handleDebtReport, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/customers/{id}/surplus", a.requireAuth(a.handleCustomerSurplus, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/customers/{id}/surplus/apply", a.requireAuth(a.handleApplySurplus, domain.RoleVendor, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header of
// mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var draft domain.SaleDraft
	if err := decodeJSON(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.CreateSale(r.Context(), draft)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": result})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.CompleteSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleReopenSale(w http.ResponseWriter, r *http.Request) {
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}

	var req domain.ReopenSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	sale, err := a.service.ReopenSale(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListPayments(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var in domain.PaymentInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in.SaleID = r.PathValue("id")

	resp, err := a.service.RecordPayment(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	saleID := r.PathValue("id")
	balance, err := a.service.OutstandingBalance(r.Context(), saleID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale_id": saleID, "balance": balance})
}

func (a *API) handleAutoComplete(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.TryAutoComplete(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var upd domain.PaymentUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.UpdatePayment(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeletePayment(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleGetFolioConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.service.GetFolioConfig(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folio_config": cfg})
}

func (a *API) handleUpdateFolioConfig(w http.ResponseWriter, r *http.Request) {
	var upd domain.FolioConfigUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg, err := a.service.UpdateFolioConfig(r.Context(), upd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folio_config": cfg})
}

func (a *API) handleDebtReport(w http.ResponseWriter, r *http.Request) {
	loc := a.service.Location()
	from, err := parseBound(r.URL.Query().Get("from"), loc, false)
	if err != nil {
		a.fail(w, r, apperror.NewValidationError("from", err.Error()))
		return
	}
	to, err := parseBound(r.URL.Query().Get("to"), loc, true)
	if err != nil {
		a.fail(w, r, apperror.NewValidationError("to", err.Error()))
		return
	}

	stats, err := a.service.DebtStatistics(r.Context(), domain.DebtRange{From: from, To: to})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (a *API) handleCustomerSurplus(w http.ResponseWriter, r *http.Request) {
	surplus, err := a.service.CustomerSurplus(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surplus": surplus})
}

func (a *API) handleApplySurplus(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplySurplusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.ApplySurplus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// fail maps a service error to its HTTP status and writes it.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var validation *apperror.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  apperror.ErrValidation.Error(),
			"fields": validation.Fields,
		})
		return
	}

	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, folio.ErrDuplicateFolio),
		errors.Is(err, folio.ErrFolioCollision),
		errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, folio.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseBound reads YYYY-MM-DD in the business location or RFC3339. A date used
// as an upper bound covers the whole day.
func parseBound(raw string, loc *time.Location, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if day, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		if upper {
			day = day.Add(24*time.Hour - time.Nanosecond)
		}
		return &day, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("must use YYYY-MM-DD or RFC3339")
	}
	return &at, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeError hides the cause of 5xx responses.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
