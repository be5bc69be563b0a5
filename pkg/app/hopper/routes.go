package hopper

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/internal/metrics"
	"github.com/chainsafe/usdc-hopper/pkg/app"
	apperrors "github.com/chainsafe/usdc-hopper/pkg/app/errors"
	apphttp "github.com/chainsafe/usdc-hopper/pkg/app/http"
	"github.com/chainsafe/usdc-hopper/pkg/network"
	"github.com/chainsafe/usdc-hopper/pkg/orchestrator"
	"github.com/chainsafe/usdc-hopper/pkg/quote"
	"github.com/chainsafe/usdc-hopper/pkg/transfer"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
)

var _ app.Runner = (*Server)(nil)

const defaultRequestTimeout = 60 * time.Second

// TransferStore is the part of the transfer store the API exposes
type TransferStore interface {
	Load(ctx context.Context) []*transfer.Transfer
	Get(ctx context.Context, id string) (*transfer.Transfer, error)
	Clear(ctx context.Context) error
	LoadNetworkPreferences(ctx context.Context) (transfer.NetworkPreferences, bool)
	SaveNetworkPreferences(ctx context.Context, prefs transfer.NetworkPreferences) error
}

// Orchestrator executes transfers
type Orchestrator interface {
	Execute(ctx context.Context, req orchestrator.Request) (string, error)
	Reset()
	State() orchestrator.State
}

// Watcher runs on-demand reconciliation passes
type Watcher interface {
	ForceCheck(ctx context.Context) error
}

// Handler serves the hopper API
type Handler struct {
	Store        TransferStore
	Orchestrator Orchestrator
	Watcher      Watcher
	Quoter       quote.Quoter
	Registry     network.Registry
	Logger       *zap.Logger
}

// NewRouter mounts every route. /metrics is only served when metrics is true.
func NewRouter(h *Handler, withMetrics bool) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(countRequests)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	handle := func(fn apphttp.HandlerFunc) http.HandlerFunc {
		return apphttp.HandleError(h.Logger, fn)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/networks", handle(h.listNetworks))

		r.Get("/transfers", handle(h.listTransfers))
		r.Post("/transfers", handle(h.execute))
		r.Delete("/transfers", handle(h.clearTransfers))
		r.Post("/transfers/check", handle(h.forceCheck))
		r.Get("/transfers/{id}", handle(h.getTransfer))

		r.Get("/bridge/state", handle(h.bridgeState))
		r.Post("/bridge/reset", handle(h.resetBridge))

		r.Get("/preferences", handle(h.getPreferences))
		r.Put("/preferences", handle(h.putPreferences))

		r.Post("/quote", handle(h.quote))
	})

	return r
}

// countRequests records every request by matched route pattern.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

type transfersResponse struct {
	Transfers []*transfer.Transfer `json:"transfers"`
}

type executeResponse struct {
	ID string `json:"id"`
}

type quoteRequest struct {
	FromNetworkID string `json:"fromNetworkId"`
	ToNetworkID   string `json:"toNetworkId"`
	Amount        string `json:"amount"`
	Wallet        string `json:"wallet,omitempty"`
}

func (h *Handler) listNetworks(w http.ResponseWriter, _ *http.Request) error {
	apphttp.WriteJSON(w, http.StatusOK, map[string]any{"networks": h.Registry.All()})
	return nil
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) error {
	list := h.Store.Load(r.Context())
	if list == nil {
		list = []*transfer.Transfer{}
	}
	apphttp.WriteJSON(w, http.StatusOK, &transfersResponse{Transfers: list})
	return nil
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) error {
	t, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, transferstore.ErrTransferNotFound) {
			return apperrors.ResourceNotFoundError(err, "Transfer not found.")
		}
		return apperrors.GeneralError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, t)
	return nil
}

// execute runs the transfer detached from the request so a dropped client
// connection does not abandon the engine call or its final write.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request) error {
	var req orchestrator.Request
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}

	id, err := h.Orchestrator.Execute(context.WithoutCancel(r.Context()), req)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, &executeResponse{ID: id})
	return nil
}

func (h *Handler) clearTransfers(w http.ResponseWriter, r *http.Request) error {
	if err := h.Store.Clear(r.Context()); err != nil {
		return apperrors.GeneralError(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) forceCheck(w http.ResponseWriter, r *http.Request) error {
	if err := h.Watcher.ForceCheck(r.Context()); err != nil {
		return apperrors.GeneralError(err)
	}
	return h.listTransfers(w, r)
}

func (h *Handler) bridgeState(w http.ResponseWriter, _ *http.Request) error {
	apphttp.WriteJSON(w, http.StatusOK, h.Orchestrator.State())
	return nil
}

func (h *Handler) resetBridge(w http.ResponseWriter, _ *http.Request) error {
	h.Orchestrator.Reset()
	apphttp.WriteJSON(w, http.StatusOK, h.Orchestrator.State())
	return nil
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) error {
	prefs, ok := h.Store.LoadNetworkPreferences(r.Context())
	if !ok {
		prefs = transfer.NetworkPreferences{
			FromNetworkID: network.DefaultFromNetworkID,
			ToNetworkID:   network.DefaultToNetworkID,
		}
	}
	apphttp.WriteJSON(w, http.StatusOK, prefs)
	return nil
}

func (h *Handler) putPreferences(w http.ResponseWriter, r *http.Request) error {
	var prefs transfer.NetworkPreferences
	if err := apphttp.DecodeJSON(r, &prefs); err != nil {
		return err
	}
	if _, _, err := h.pair(prefs.FromNetworkID, prefs.ToNetworkID); err != nil {
		return err
	}
	if err := h.Store.SaveNetworkPreferences(r.Context(), prefs); err != nil {
		return apperrors.GeneralError(err)
	}
	apphttp.WriteJSON(w, http.StatusOK, prefs)
	return nil
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) error {
	var req quoteRequest
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}
	from, to, err := h.pair(req.FromNetworkID, req.ToNetworkID)
	if err != nil {
		return err
	}

	q := h.Quoter.Quote(r.Context(), quote.Params{
		FromNetworkID: from.ID,
		ToNetworkID:   to.ID,
		FromChainID:   from.ChainID,
		ToChainID:     to.ChainID,
		Amount:        req.Amount,
		Wallet:        req.Wallet,
	})
	apphttp.WriteJSON(w, http.StatusOK, q)
	return nil
}

// pair resolves two distinct registered networks.
func (h *Handler) pair(fromID, toID string) (*network.Network, *network.Network, error) {
	if fromID == toID {
		return nil, nil, apperrors.BadRequestError(nil, orchestrator.MsgSameNetwork)
	}
	from, err := h.Registry.LookupByID(fromID)
	if err != nil {
		return nil, nil, apperrors.BadRequestError(err, orchestrator.MsgUnknownNetwork)
	}
	to, err := h.Registry.LookupByID(toID)
	if err != nil {
		return nil, nil, apperrors.BadRequestError(err, orchestrator.MsgUnknownNetwork)
	}
	return from, to, nil
}
