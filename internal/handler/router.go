package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/efreitasn/carbonexchange/internal/auction"
	"github.com/efreitasn/carbonexchange/internal/pool"
	"github.com/efreitasn/carbonexchange/internal/service"
)

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(
	orderSvc *service.OrderService,
	paramsSvc *service.ParamsService,
	accountSvc *service.AccountService,
	webhookSvc *service.WebhookService,
	auctions *auction.Manager,
	pools *pool.Manager,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogging(logger))
	r.Use(middleware.Recoverer)
	r.Use(contentTypeJSON)

	orderH := NewOrderHandler(orderSvc)
	marketH := NewMarketHandler(orderSvc)
	auctionH := NewAuctionHandler(auctions)
	poolH := NewPoolHandler(pools)
	adminH := NewAdminHandler(paramsSvc, orderSvc, accountSvc)
	webhookH := NewWebhookHandler(webhookSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/orders", orderH.SubmitOrder)
	r.Get("/orders/{order_id}", orderH.GetOrder)
	r.Delete("/orders/{order_id}", orderH.CancelOrder)
	r.Get("/accounts/{account_id}/orders", orderH.ListOrders)

	r.Route("/markets/{credit_type}/{vintage}", func(r chi.Router) {
		r.Get("/book", marketH.GetBook)
		r.Get("/snapshot", marketH.GetSnapshot)
		r.Get("/quote", marketH.GetQuote)
		r.Get("/trades", marketH.GetTrades)
	})

	r.Route("/auctions", func(r chi.Router) {
		r.Post("/", auctionH.Create)
		r.Get("/", auctionH.List)
		r.Get("/{auction_id}", auctionH.Get)
		r.Delete("/{auction_id}", auctionH.Cancel)
		r.Post("/{auction_id}/bids", auctionH.PlaceBid)
		r.Post("/{auction_id}/end", auctionH.End)
	})

	r.Route("/pools/{credit_type}/{vintage}", func(r chi.Router) {
		r.Get("/", poolH.GetPool)
		r.Post("/liquidity", poolH.AddLiquidity)
		r.Delete("/liquidity", poolH.RemoveLiquidity)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/params", adminH.GetParams)
		r.Put("/params", adminH.UpdateParams)
		r.Get("/settlements/failed", adminH.ListFailedSettlements)
		r.Delete("/settlements/failed/{trade_id}", adminH.ResolveFailedSettlement)
		r.Post("/deposits", adminH.Deposit)
		r.Put("/accounts/{account_id}/roles/{role}", adminH.GrantRole)
		r.Delete("/accounts/{account_id}/roles/{role}", adminH.RevokeRole)
		r.Put("/accounts/{account_id}/compliance", adminH.SetCompliance)
	})

	r.Post("/webhooks", webhookH.Upsert)
	r.Get("/webhooks", webhookH.List)
	r.Delete("/webhooks/{webhook_id}", webhookH.Delete)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, size and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("account", r.Header.Get(AccountHeader)),
			)
		})
	}
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests that carry a body. If the Content-Type header doesn't start
// with "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0
		if hasBody && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
