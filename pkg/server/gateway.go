// Package server is the top-level orchestrator: it owns the listener, the
// worker pool, and the accept loop that feeds connections into it.
package server

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/gofcgi/wsgigateway/pkg/gateway"
	"github.com/gofcgi/wsgigateway/pkg/socketutil"
	"github.com/gofcgi/wsgigateway/pkg/workerpool"
)

// Config holds everything needed to bring a Gateway up.
type Config struct {
	// Network is "unix" or "tcp".
	Network string
	// Addr is a filesystem path for "unix", or a host:port for "tcp".
	Addr string
	// Umask, if non-nil, is applied around a "unix" bind.
	Umask *int

	Pool     workerpool.Config
	Strategy gateway.ResponseWriterFactory
}

// Gateway accepts connections, hands each one to the worker pool, and runs
// the per-connection FastCGI state machine against app.
type Gateway struct {
	cfg Config
	app gateway.Application

	pool     *workerpool.Pool
	listener net.Listener

	sigChan      chan os.Signal
	stopChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func New(cfg Config, app gateway.Application) *Gateway {
	return &Gateway{
		cfg:      cfg,
		app:      app,
		sigChan:  make(chan os.Signal, 1),
		stopChan: make(chan struct{}),
	}
}

// Start binds the listener, starts the worker pool, and begins accepting
// connections in the background. It returns once the listener is up;
// callers use Wait to block until shutdown completes.
func (g *Gateway) Start() error {
	listener, err := g.listen()
	if err != nil {
		return fmt.Errorf("gateway: listen on %s %s: %w", g.cfg.Network, g.cfg.Addr, err)
	}
	g.listener = listener
	log.Printf("gateway: listening on %s %s", g.cfg.Network, g.cfg.Addr)

	g.pool = workerpool.New(g.cfg.Pool)

	signal.Notify(g.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	g.wg.Add(1)
	go g.handleSignals()

	g.wg.Add(1)
	go g.acceptConnections()

	return nil
}

func (g *Gateway) listen() (net.Listener, error) {
	switch g.cfg.Network {
	case "unix":
		return socketutil.ListenUnix(g.cfg.Addr, g.cfg.Umask)
	case "tcp", "":
		return socketutil.ListenTCP(g.cfg.Addr)
	default:
		return nil, fmt.Errorf("unknown network %q", g.cfg.Network)
	}
}

func (g *Gateway) acceptConnections() {
	defer g.wg.Done()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			select {
			case <-g.stopChan:
				return
			default:
				log.Printf("gateway: accept error: %v", err)
				continue
			}
		}

		traceID := uuid.New()
		log.Printf("gateway: accepted connection %s", traceID)
		g.pool.Submit(func() { g.handleConnection(traceID, conn) })
	}
}

func (g *Gateway) handleConnection(traceID uuid.UUID, conn net.Conn) {
	c := gateway.NewConn(conn, g.app, g.cfg.Strategy)
	if err := c.Serve(); err != nil {
		log.Printf("gateway: connection %s ended: %v", traceID, err)
		return
	}
	log.Printf("gateway: connection %s closed, %s written", traceID, humanize.Bytes(c.BytesWritten()))
}

func (g *Gateway) handleSignals() {
	defer g.wg.Done()

	for {
		select {
		case <-g.stopChan:
			return
		case sig := <-g.sigChan:
			log.Printf("gateway: received %v, initiating graceful shutdown", sig)
			g.GracefulShutdown()
			return
		}
	}
}

// GracefulShutdown stops accepting new connections and closes the
// listener. It is safe to call more than once and from any goroutine.
// Connections already handed to the worker pool are left to finish on
// their own; no further coordination is attempted.
func (g *Gateway) GracefulShutdown() {
	g.shutdownOnce.Do(func() {
		log.Printf("gateway: graceful shutdown initiated")
		close(g.stopChan)
		if g.listener != nil {
			g.listener.Close()
		}
	})
}

// Wait blocks until the accept loop and signal handler have both
// returned.
func (g *Gateway) Wait() {
	g.wg.Wait()
	log.Printf("gateway: shutdown complete")
}

// Stats exposes the worker pool's point-in-time counters.
func (g *Gateway) Stats() workerpool.Stats {
	if g.pool == nil {
		return workerpool.Stats{}
	}
	return g.pool.Stats()
}
