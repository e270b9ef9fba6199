// Package api exposes the relayer, the commitment tree and the splitter over
// HTTP with JSON bodies.
package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vocdoni/shieldpay/log"
	"github.com/vocdoni/shieldpay/pool"
	"github.com/vocdoni/shieldpay/relayer"
	"github.com/vocdoni/shieldpay/splitter"
)

const (
	// relayTimeout covers verification plus on-chain confirmation.
	relayTimeout = 90 * time.Second
	// maxInFlightRequests throttles the concurrent requests served.
	maxInFlightRequests = 100
)

// NullifierSet answers spent queries with an inclusion proof against the
// spent set root.
type NullifierSet interface {
	IsNullifierSpent(n *big.Int) (bool, error)
	SpentSetRoot() ([]byte, error)
	SpentNullifierProof(n *big.Int) ([]byte, error)
}

// APIConfig type represents the configuration for the API HTTP server.
// Tree, Nullifiers and Splitter are optional, their endpoints answer 503
// when missing.
type APIConfig struct {
	Host       string
	Port       int
	Gateway    *relayer.Gateway
	Tree       *pool.Tree
	Nullifiers NullifierSet
	Splitter   *splitter.Splitter
}

// API type represents the API HTTP server.
type API struct {
	router   *chi.Mux
	server   *http.Server
	listener net.Listener

	gateway    *relayer.Gateway
	tree       *pool.Tree
	nullifiers NullifierSet
	splitter   *splitter.Splitter

	// ctx bounds the background work started by requests
	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup
}

// New creates a new API instance with the given configuration. It does not
// listen until Start is called.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Gateway == nil {
		return nil, fmt.Errorf("missing relay gateway")
	}
	a := &API{
		gateway:    conf.Gateway,
		tree:       conf.Tree,
		nullifiers: conf.Nullifiers,
		splitter:   conf.Splitter,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.initRouter()
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Start listens on the configured address and serves in the background.
func (a *API) Start() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	a.listener = ln
	log.Infow("starting API server", "address", ln.Addr().String())
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw(err, "API server stopped")
		}
	}()
	return nil
}

// Addr returns the address the server listens on, once started.
func (a *API) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Stop shuts the server down and waits for the background work.
func (a *API) Stop(ctx context.Context) error {
	a.cancel()
	err := a.server.Shutdown(ctx)
	a.background.Wait()
	return err
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", MetricsEndpoint, "method", "GET")
	a.router.Handle(MetricsEndpoint, promhttp.Handler())
	log.Infow("register handler", "endpoint", InfoEndpoint, "method", "GET")
	a.router.Get(InfoEndpoint, a.info)

	log.Infow("register handler", "endpoint", RelayEndpoint, "method", "POST")
	a.router.With(middleware.Timeout(relayTimeout)).Post(RelayEndpoint, a.relay)
	log.Infow("register handler", "endpoint", RelayStatusEndpoint, "method", "GET")
	a.router.Get(RelayStatusEndpoint, a.relayStatus)

	log.Infow("register handler", "endpoint", PoolRootEndpoint, "method", "GET")
	a.router.Get(PoolRootEndpoint, a.poolRoot)
	log.Infow("register handler", "endpoint", PoolProofEndpoint, "method", "GET")
	a.router.Get(PoolProofEndpoint, a.poolProof)
	log.Infow("register handler", "endpoint", PoolNullifierEndpoint, "method", "GET")
	a.router.Get(PoolNullifierEndpoint, a.poolNullifier)

	log.Infow("register handler", "endpoint", SplitsEndpoint, "method", "POST")
	a.router.Post(SplitsEndpoint, a.newSplit)
	log.Infow("register handler", "endpoint", SplitsEndpoint, "method", "GET")
	a.router.Get(SplitsEndpoint, a.splits)
	log.Infow("register handler", "endpoint", SplitFeesEndpoint, "method", "GET")
	a.router.Get(SplitFeesEndpoint, a.splitFees)
	log.Infow("register handler", "endpoint", SplitEndpoint, "method", "GET")
	a.router.Get(SplitEndpoint, a.split)
	log.Infow("register handler", "endpoint", SplitFundEndpoint, "method", "POST")
	a.router.Post(SplitFundEndpoint, a.fundSplit)
	log.Infow("register handler", "endpoint", SplitRetryEndpoint, "method", "POST")
	a.router.Post(SplitRetryEndpoint, a.retrySplitPart)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(maxInFlightRequests))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))

	// Register the API handlers
	a.registerHandlers()
}
