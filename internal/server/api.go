package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"RainLens/internal/cache"
	"RainLens/internal/identity"
	"RainLens/internal/observability"
	"RainLens/internal/persistence"
	"RainLens/internal/query"
)

// Snapshotter computes a fresh aggregate. *query.Service implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context, view query.View, currency identity.Pubkey) (*query.Snapshot, error)
}

// SnapshotReader loads stored aggregates. *persistence.SnapshotStore
// implements it.
type SnapshotReader interface {
	Latest(ctx context.Context, view query.View, currency identity.Pubkey) (*query.Snapshot, error)
	History(ctx context.Context, view query.View, currency identity.Pubkey, limit int) ([]persistence.SnapshotInfo, error)
}

// APIDeps holds the collaborators of the HTTP API. Only Service is
// required. Timeout bounds one shared computation; zero means
// DefaultComputeTimeout.
type APIDeps struct {
	Service  Snapshotter
	Cache    *cache.Snapshots
	Store    SnapshotReader
	Sinks    []chan<- *query.Snapshot
	Decimals int32
	Timeout  time.Duration
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
}

const DefaultComputeTimeout = 2 * time.Minute

// API serves aggregate views over HTTP/JSON.
type API struct {
	deps  APIDeps
	group singleflight.Group
}

func NewAPI(deps APIDeps) *API {
	if deps.Timeout <= 0 {
		deps.Timeout = DefaultComputeTimeout
	}
	return &API{deps: deps}
}

// EntryResponse is one user's amount. Amounts are decimal strings in base
// units; AmountUI is scaled by the currency decimals.
type EntryResponse struct {
	User     string `json:"user"`
	Amount   string `json:"amount"`
	AmountUI string `json:"amount_ui"`
}

// AggregateResponse is the body of every view endpoint.
type AggregateResponse struct {
	Currency   string          `json:"currency"`
	View       string          `json:"view"`
	AsOf       time.Time       `json:"as_of"`
	SnapshotID string          `json:"snapshot_id"`
	Source     string          `json:"source"` // live, cache or store
	Entries    []EntryResponse `json:"entries"`
}

// HistoryResponse lists stored snapshot headers, newest first.
type HistoryResponse struct {
	Currency  string           `json:"currency"`
	View      string           `json:"view"`
	Snapshots []SnapshotHeader `json:"snapshots"`
}

type SnapshotHeader struct {
	SnapshotID string    `json:"snapshot_id"`
	AsOf       time.Time `json:"as_of"`
	EntryCount int       `json:"entry_count"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

const (
	sourceLive  = "live"
	sourceCache = "cache"
	sourceStore = "store"
)

// Register mounts the API routes on mux.
func (a *API) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		pattern string
		handler func(w http.ResponseWriter, r *http.Request, params map[string]string) int
	}{
		{"/v1/currencies/{currency}/suppliers", a.viewHandler(query.ViewSupply)},
		{"/v1/currencies/{currency}/borrowers", a.viewHandler(query.ViewBorrow)},
		{"/v1/currencies/{currency}/snapshots/{view}/latest", a.handleStored},
		{"/v1/currencies/{currency}/snapshots/{view}", a.handleHistory},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(http.MethodGet, rt.pattern, a.instrument(rt.pattern, rt.handler)); err != nil {
			return err
		}
	}
	return nil
}

func (a *API) instrument(route string, h func(http.ResponseWriter, *http.Request, map[string]string) int) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		code := h(w, r, params)
		a.deps.Metrics.ObserveHTTP(route, strconv.Itoa(code), time.Since(start))
	}
}

func (a *API) viewHandler(view query.View) func(http.ResponseWriter, *http.Request, map[string]string) int {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) int {
		currency, err := identity.Parse(params["currency"])
		if err != nil {
			return a.writeError(w, http.StatusBadRequest, "invalid_currency", err)
		}

		fresh := r.URL.Query().Get("fresh") == "true"
		snap, source, err := a.resolve(r.Context(), view, currency, fresh)
		if err != nil {
			return a.writeQueryError(w, err)
		}
		return a.writeSnapshot(w, snap, source)
	}
}

// storedParams validates the path of the stored-snapshot routes. A non-zero
// return means the response is already written.
func (a *API) storedParams(w http.ResponseWriter, params map[string]string) (query.View, identity.Pubkey, int) {
	if a.deps.Store == nil {
		return "", identity.Zero, a.writeError(w, http.StatusNotFound, "store_disabled", errors.New("snapshot persistence is not configured"))
	}
	currency, err := identity.Parse(params["currency"])
	if err != nil {
		return "", identity.Zero, a.writeError(w, http.StatusBadRequest, "invalid_currency", err)
	}
	view, err := query.ParseView(params["view"])
	if err != nil {
		return "", identity.Zero, a.writeError(w, http.StatusBadRequest, "invalid_view", err)
	}
	return view, currency, 0
}

func (a *API) handleStored(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	view, currency, code := a.storedParams(w, params)
	if code != 0 {
		return code
	}

	snap, err := a.deps.Store.Latest(r.Context(), view, currency)
	if errors.Is(err, persistence.ErrSnapshotNotFound) {
		return a.writeError(w, http.StatusNotFound, "not_found", err)
	}
	if err != nil {
		return a.writeError(w, http.StatusInternalServerError, "store", err)
	}
	return a.writeSnapshot(w, snap, sourceStore)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	view, currency, code := a.storedParams(w, params)
	if code != 0 {
		return code
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryLimit {
			return a.writeError(w, http.StatusBadRequest, "invalid_limit",
				fmt.Errorf("limit must be an integer in [1, %d], got %q", maxHistoryLimit, s))
		}
		limit = n
	}

	infos, err := a.deps.Store.History(r.Context(), view, currency, limit)
	if err != nil {
		return a.writeError(w, http.StatusInternalServerError, "store", err)
	}

	resp := HistoryResponse{
		Currency:  currency.String(),
		View:      string(view),
		Snapshots: make([]SnapshotHeader, len(infos)),
	}
	for i, info := range infos {
		resp.Snapshots[i] = SnapshotHeader{
			SnapshotID: info.ID.String(),
			AsOf:       info.AsOf,
			EntryCount: info.EntryCount,
		}
	}
	return a.writeJSON(w, http.StatusOK, resp)
}

// resolve serves from cache when possible; otherwise it computes once per
// (view, currency) no matter how many requests are waiting, then hands the
// result to the cache and every sink.
//
// The shared computation is detached from the caller that started it and
// bounded by deps.Timeout instead; each waiter only gives up on its own ctx.
func (a *API) resolve(ctx context.Context, view query.View, currency identity.Pubkey, fresh bool) (*query.Snapshot, string, error) {
	if !fresh && a.deps.Cache != nil {
		if snap, ok := a.deps.Cache.Get(view, currency); ok {
			return snap, sourceCache, nil
		}
	}

	key := string(view) + "/" + currency.String()
	ch := a.group.DoChan(key, func() (interface{}, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.deps.Timeout)
		defer cancel()

		snap, err := a.deps.Service.Snapshot(computeCtx, view, currency)
		if err != nil {
			return nil, err
		}
		if a.deps.Cache != nil {
			a.deps.Cache.Put(snap)
		}
		a.offer(snap)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		return res.Val.(*query.Snapshot), sourceLive, nil
	}
}

// offer hands snap to every sink without blocking; a full sink drops it.
func (a *API) offer(snap *query.Snapshot) {
	for i, sink := range a.deps.Sinks {
		select {
		case sink <- snap:
		default:
			a.deps.Logger.Warn().
				Int("sink", i).
				Str("snapshot_id", snap.ID.String()).
				Msg("sink full, snapshot dropped")
		}
	}
}

func (a *API) writeSnapshot(w http.ResponseWriter, snap *query.Snapshot, source string) int {
	resp := AggregateResponse{
		Currency:   snap.Currency.String(),
		View:       string(snap.View),
		AsOf:       snap.AsOf,
		SnapshotID: snap.ID.String(),
		Source:     source,
		Entries:    make([]EntryResponse, len(snap.Entries)),
	}
	for i, e := range snap.Entries {
		resp.Entries[i] = EntryResponse{
			User:     e.User.String(),
			Amount:   strconv.FormatUint(e.Amount, 10),
			AmountUI: ScaleAmount(e.Amount, a.deps.Decimals).String(),
		}
	}
	return a.writeJSON(w, http.StatusOK, resp)
}

// writeQueryError maps a query failure onto a status code: retrieval
// failures are the upstream node's fault (502), everything else is ours.
func (a *API) writeQueryError(w http.ResponseWriter, err error) int {
	class := query.ErrorClass(err)
	code := http.StatusInternalServerError
	switch class {
	case "retrieval":
		code = http.StatusBadGateway
	case "canceled":
		code = http.StatusGatewayTimeout
	}
	return a.writeError(w, code, class, err)
}

func (a *API) writeError(w http.ResponseWriter, code int, class string, err error) int {
	if code >= 500 {
		a.deps.Logger.Error().Err(err).Str("class", class).Int("status", code).Msg("request failed")
	}
	return a.writeJSON(w, code, errorResponse{Error: err.Error(), Class: class})
}

func (a *API) writeJSON(w http.ResponseWriter, code int, body any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.deps.Logger.Warn().Err(err).Int("status", code).Msg("write response body")
	}
	return code
}

// ScaleAmount converts base units to a display amount with the given
// number of decimals, without losing precision.
func ScaleAmount(amount uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals)
}
