package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, hub *EventHub) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/orders", handler.CreateOrder)
	r.Get("/orders", handler.ListOrders)
	r.Get("/orders/{orderId}", handler.GetOrder)
	r.Get("/orders/{orderId}/chunks/buyer", handler.ListBuyerChunks)
	r.Get("/orders/{orderId}/chunks/seller", handler.ListSellerChunks)

	r.Post("/chunks/{chunkId}/paid", handler.MarkChunkPaid)
	r.Post("/chunks/{chunkId}/received", handler.MarkChunkReceived)

	r.Get("/bonuses", handler.ListBonuses)
	r.Post("/referrals", handler.SetReferrer)

	r.Get("/pool", handler.PoolBalance)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/orders/{orderId}/reinstate", handler.Reinstate)
		r.Post("/sweeps/{name}", handler.RunSweep)
		r.Post("/pool", handler.SetPool)
	})

	if hub != nil {
		r.Get("/ws", hub.Serve)
	}

	return &Server{Router: r}
}
