package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"payout-engine/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

type Server struct {
	server *http.Server
	certs  *CertReloader
	addr   net.Addr
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler http.Handler
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if cfg.TLS.Enable {
		certs, err := NewCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		srv.certs = certs
		srv.server.TLSConfig = certs.TLSConfig()
	}

	return srv, nil
}

// Start binds the listener synchronously so port conflicts fail startup,
// then serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr = lis.Addr()

	if s.certs != nil {
		go s.certs.Watch()
		zap.L().Info("Starting HTTP server with tls", zap.String("addr", lis.Addr().String()))
		go s.serve(func() error { return s.server.ServeTLS(lis, "", "") })
		return nil
	}

	zap.L().Info("Starting HTTP server", zap.String("addr", lis.Addr().String()))
	go s.serve(func() error { return s.server.Serve(lis) })
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) serve(listen func() error) {
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Fatal("HTTP server failed", zap.Error(err))
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.certs != nil {
		s.certs.Stop()
	}
	return s.server.Shutdown(ctx)
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			return srv.Shutdown(ctx)
		},
	})
}
