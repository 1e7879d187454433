package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/quizsync/go/internal/gateway"
)

// setupServer builds the local status server. It only exposes read-only
// views of the running session.
func setupServer(addr string, views gateway.ViewProvider, stats gateway.StatsProvider) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	handler := gateway.NewStateHandler(views, stats)
	handler.RegisterRoutes(r)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(c.Handler(r), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
