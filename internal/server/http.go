package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"StableLedger/internal/apperrors"
	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/query"
	"StableLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes  = 64 << 10
	submitTimeout = 10 * time.Second
)

// Submitter hands a typed event to the core loop and waits for its receipt.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*core.Receipt, error)
}

// LedgerReader is the live, in-memory view of the core.
type LedgerReader interface {
	Config() (state.Config, error)
	Position(depositor common.Address) state.Position
	Health(depositor common.Address) (core.HealthView, error)
	Balances(owner common.Address) core.Balances
	Supply() int64
	LastPrice() (int64, uint64)
	SlotMark() uint64
	GetSequence() int64
}

// ProjectionReader serves the Postgres-backed read model.
type ProjectionReader interface {
	ListPositions(ctx context.Context, status, after string, limit int) (*query.PositionPage, error)
	ListLiquidations(ctx context.Context, depositor common.Address, limit int, beforeSequence *int64) ([]query.LiquidationResponse, error)
	ListJournals(ctx context.Context, owner common.Address, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Admin runs operator actions.
type Admin interface {
	TakeSnapshot(ctx context.Context) (int64, error)
	RebuildProjections(ctx context.Context) error
	LatestPersistedSequence(ctx context.Context) (int64, error)
}

// ServerDeps holds everything the HTTP and gRPC surfaces need.
type ServerDeps struct {
	Requests       Submitter
	Ledger         LedgerReader
	Projections    ProjectionReader
	Admin          Admin // optional
	HealthChecker  *observability.HealthChecker
	Metrics        *observability.Metrics
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies lists IPs or CIDRs allowed to set X-Real-IP and
	// X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies []string
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

type httpAPI struct {
	deps    *ServerDeps
	limiter *RateLimiter
	proxies proxyList
	logger  zerolog.Logger
	now     func() time.Time
}

type route struct {
	method   string
	pattern  string
	endpoint string
	write    bool
	handle   runtime.HandlerFunc
}

// NewHTTPHandler registers every route on a grpc-gateway ServeMux.
func NewHTTPHandler(deps *ServerDeps) (http.Handler, error) {
	if deps.Requests == nil || deps.Ledger == nil {
		return nil, errors.New("server: Requests and Ledger are required")
	}
	proxies, err := parseTrustedProxies(deps.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	api := &httpAPI{
		deps:    deps,
		limiter: NewRateLimiter(deps.RateLimitRPS, deps.RateLimitBurst),
		proxies: proxies,
		logger:  observability.NewLogger("http"),
		now:     time.Now,
	}

	routes := []route{
		{http.MethodPost, "/v1/config", "initialize_config", true,
			api.submit("InitializeConfig", nil)},
		{http.MethodPatch, "/v1/config", "update_config", true,
			api.submit("UpdateConfig", nil)},
		{http.MethodGet, "/v1/config", "get_config", false, api.getConfig},

		{http.MethodPost, "/v1/positions/{depositor}/deposit", "deposit", true,
			api.submit("Deposit", map[string]string{"depositor": "depositor"})},
		{http.MethodPost, "/v1/positions/{depositor}/withdraw", "withdraw", true,
			api.submit("Withdraw", map[string]string{"depositor": "depositor"})},
		{http.MethodPost, "/v1/positions/{depositor}/liquidate", "liquidate", true,
			api.submit("Liquidate", map[string]string{"depositor": "depositor"})},
		{http.MethodGet, "/v1/positions/{depositor}", "get_position", false, api.getPosition},
		{http.MethodGet, "/v1/positions", "list_positions", false, api.listPositions},

		{http.MethodPost, "/v1/wallets/{address}/fund", "fund_wallet", true,
			api.submit("WalletFunded", map[string]string{"address": "owner"})},
		{http.MethodPost, "/v1/wallets/{address}/withdraw", "withdraw_wallet", true,
			api.submit("WalletWithdrawn", map[string]string{"address": "owner"})},
		{http.MethodGet, "/v1/balances/{address}", "get_balances", false, api.getBalances},

		{http.MethodGet, "/v1/liquidations", "list_liquidations", false, api.listLiquidations},
		{http.MethodGet, "/v1/liquidations/{depositor}", "list_liquidations", false, api.listLiquidations},
		{http.MethodGet, "/v1/journals/{address}", "list_journals", false, api.listJournals},
		{http.MethodGet, "/v1/integrity", "verify_integrity", false, api.verifyIntegrity},

		{http.MethodPost, "/v1/admin/snapshot", "admin_snapshot", true, api.takeSnapshot},
		{http.MethodPost, "/v1/admin/rebuild-projections", "admin_rebuild", true, api.rebuildProjections},
		{http.MethodGet, "/v1/admin/event-log", "admin_event_log", false, api.eventLogInfo},

		{http.MethodGet, "/healthz", "healthz", false, api.healthz},
		{http.MethodGet, "/readyz", "readyz", false, api.readyz},
	}

	mux := runtime.NewServeMux()
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, api.instrument(rt)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (api *httpAPI) instrument(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		switch {
		case rt.write && !api.limiter.Allow(api.proxies.clientIP(r)):
			if m := api.deps.Metrics; m != nil {
				m.RateLimited.WithLabelValues(rt.endpoint).Inc()
			}
			writeJSON(rec, http.StatusTooManyRequests, errorBody{
				Code: "RATE_LIMITED", Message: "too many requests", Suggestion: "Retry after a short delay.",
			})
		case rt.write && api.deps.HealthChecker != nil && !api.deps.HealthChecker.IsReady():
			writeJSON(rec, http.StatusServiceUnavailable, errorBody{
				Code: "UNAVAILABLE", Message: "ledger is recovering", Suggestion: "Retry once /readyz reports ready.",
			})
		default:
			rt.handle(rec, r, params)
		}

		if m := api.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(rt.endpoint, strconv.Itoa(rec.status)).Inc()
			m.QueryDuration.WithLabelValues(rt.endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// submit parses the body as the event's wire JSON, with path parameters
// copied into the named fields, and waits for the core's receipt.
func (api *httpAPI) submit(eventType string, pathFields map[string]string) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		inject := make(map[string]string, len(pathFields))
		for param, field := range pathFields {
			addr, err := ingestion.ParseAddress(param, params[param])
			if err != nil {
				api.writeError(w, err)
				return
			}
			inject[field] = lowerHex(addr)
		}

		body, err := api.eventBody(r, inject)
		if err != nil {
			api.writeError(w, err)
			return
		}
		evt, err := ingestion.ParseEvent(eventType, body)
		if err != nil {
			api.writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
		defer cancel()
		receipt, err := api.deps.Requests.Submit(ctx, evt)
		if err != nil {
			api.writeError(w, err)
			return
		}

		status := http.StatusOK
		if !receipt.Duplicate {
			status = http.StatusCreated
		}
		writeJSON(w, status, newReceiptView(receipt))
	}
}

// eventBody merges path fields into the JSON body. A missing request_id gets
// a fresh UUID and a missing timestamp_us the receive time.
func (api *httpAPI) eventBody(r *http.Request, inject map[string]string) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperrors.WithCause(apperrors.KindInvalidRequest, "read body", err)
	}
	if len(raw) > maxBodyBytes {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "request body too large")
	}

	fields := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, apperrors.WithCause(apperrors.KindInvalidRequest, "body must be a JSON object", err)
		}
	}

	for field, value := range inject {
		if existing, ok := fields[field]; ok {
			var s string
			if err := json.Unmarshal(existing, &s); err != nil || !strings.EqualFold(s, value) {
				return nil, apperrors.Newf(apperrors.KindInvalidRequest, "%s in body does not match the path", field)
			}
		}
		fields[field], _ = json.Marshal(value)
	}
	if _, ok := fields["request_id"]; !ok {
		fields["request_id"], _ = json.Marshal(uuid.NewString())
	}
	if _, ok := fields["timestamp_us"]; !ok {
		fields["timestamp_us"], _ = json.Marshal(api.now().UnixMicro())
	}
	return json.Marshal(fields)
}

func (api *httpAPI) getConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	cfg, err := api.deps.Ledger.Config()
	if err != nil {
		api.writeError(w, err)
		return
	}
	view := liveConfigView{
		Config: newConfigView(cfg),
		Supply:   api.deps.Ledger.Supply(),
		SlotMark: api.deps.Ledger.SlotMark(),
		AsOf:     api.deps.Ledger.GetSequence() - 1,
	}
	if price, slot := api.deps.Ledger.LastPrice(); price > 0 {
		view.LastPriceUSD = oracle.FormatPrice(price)
		view.LastPriceSlot = slot
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *httpAPI) getPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	depositor, err := ingestion.ParseAddress("depositor", params["depositor"])
	if err != nil {
		api.writeError(w, err)
		return
	}
	pos := api.deps.Ledger.Position(depositor)
	if !pos.Initialized {
		api.writeError(w, query.ErrNotFound)
		return
	}

	view := livePositionView{Position: newPositionView(pos), AsOf: api.deps.Ledger.GetSequence() - 1}
	// Health needs config and a validated price; without them the position is still served.
	if hv, err := api.deps.Ledger.Health(depositor); err == nil {
		view.Health = &hv
	}
	writeJSON(w, http.StatusOK, view)
}

func (api *httpAPI) getBalances(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := ingestion.ParseAddress("address", params["address"])
	if err != nil {
		api.writeError(w, err)
		return
	}
	b := api.deps.Ledger.Balances(owner)
	writeJSON(w, http.StatusOK, liveBalancesView{
		Address: lowerHex(owner),
		Wallet:  b.Wallet,
		Vault:   b.Vault,
		Stable:  b.Stable,
		AsOf:    api.deps.Ledger.GetSequence() - 1,
	})
}

func (api *httpAPI) listPositions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !api.requireProjections(w) {
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		api.writeError(w, err)
		return
	}
	page, err := api.deps.Projections.ListPositions(r.Context(), q.Get("status"), q.Get("after"), int(limit))
	if err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (api *httpAPI) listLiquidations(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !api.requireProjections(w) {
		return
	}
	var depositor common.Address
	if s, ok := params["depositor"]; ok {
		addr, err := ingestion.ParseAddress("depositor", s)
		if err != nil {
			api.writeError(w, err)
			return
		}
		depositor = addr
	}
	limit, before, err := pageParams(r)
	if err != nil {
		api.writeError(w, err)
		return
	}
	liqs, err := api.deps.Projections.ListLiquidations(r.Context(), depositor, limit, before)
	if err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": liqs})
}

func (api *httpAPI) listJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !api.requireProjections(w) {
		return
	}
	owner, err := ingestion.ParseAddress("address", params["address"])
	if err != nil {
		api.writeError(w, err)
		return
	}
	limit, before, err := pageParams(r)
	if err != nil {
		api.writeError(w, err)
		return
	}
	entries, err := api.deps.Projections.ListJournals(r.Context(), owner, limit, before)
	if err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (api *httpAPI) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !api.requireProjections(w) {
		return
	}
	report, err := api.deps.Projections.VerifyIntegrity(r.Context())
	if err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (api *httpAPI) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !api.requireAdmin(w) {
		return
	}
	seq, err := api.deps.Admin.TakeSnapshot(r.Context())
	if err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"sequence": seq})
}

func (api *httpAPI) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !api.requireAdmin(w) {
		return
	}
	if err := api.deps.Admin.RebuildProjections(r.Context()); err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (api *httpAPI) eventLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !api.requireAdmin(w) {
		return
	}
	persisted, err := api.deps.Admin.LatestPersistedSequence(r.Context())
	if err != nil {
		api.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"last_persisted_sequence": persisted,
		"last_applied_sequence":   api.deps.Ledger.GetSequence() - 1,
	})
}

func (api *httpAPI) healthz(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if api.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
		return
	}
	api.deps.HealthChecker.LivenessHandler(w, r)
}

func (api *httpAPI) readyz(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if api.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	api.deps.HealthChecker.ReadinessHandler(w, r)
}

func (api *httpAPI) requireProjections(w http.ResponseWriter) bool {
	if api.deps.Projections == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "UNAVAILABLE", Message: "read model not configured"})
		return false
	}
	return true
}

func (api *httpAPI) requireAdmin(w http.ResponseWriter) bool {
	if api.deps.Admin == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Code: "UNIMPLEMENTED", Message: "admin actions not configured"})
		return false
	}
	return true
}

// writeError maps err onto an HTTP status through its gRPC code.
func (api *httpAPI) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "not found"})
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{
			Code: "TIMEOUT", Message: "ledger did not answer in time", Suggestion: "Resubmit with the same request_id.",
		})
		return
	}

	appErr := apperrors.From(err)
	if appErr.Kind == apperrors.KindInternal {
		api.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, runtime.HTTPStatusFromCode(appErr.Code()), errorBody{
		Code:       string(appErr.Kind),
		Message:    appErr.Message,
		Suggestion: appErr.Suggestion,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func intParam(s, name string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.KindInvalidRequest, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func pageParams(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		return 0, nil, err
	}
	if q.Get("before") == "" {
		return int(limit), nil, nil
	}
	before, err := intParam(q.Get("before"), "before")
	if err != nil {
		return 0, nil, err
	}
	return int(limit), &before, nil
}
