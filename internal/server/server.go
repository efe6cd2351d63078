package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	port         uint
	httpLog      bool
	rootContext  *actor.RootContext
	masterActor  *actor.PID
	metrics      http.Handler
	queryTimeout time.Duration
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, gatherer prometheus.Gatherer) *http.Server {
	NewServer := newServer(cfg, rootContext, masterActor, gatherer)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}

func newServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, gatherer prometheus.Gatherer) *Server {
	return &Server{
		port:         cfg.Port,
		rootContext:  rootContext,
		masterActor:  masterActor,
		httpLog:      cfg.HttpLog,
		metrics:      promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		queryTimeout: 5 * time.Second,
	}
}
