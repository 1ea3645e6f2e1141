package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"echostream/config"
	"echostream/core"
	"echostream/logging"
	"echostream/metrics"
	"echostream/middleware"
	"echostream/registry"
	"echostream/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// WebSocketPath is where the websocket endpoint is mounted on ws_listen.
const WebSocketPath = "/ws"

func serveCmd() *cli.Command {
	cfgPath := ""
	return &cli.Command{
		Name:  "serve",
		Usage: "Runs an echostream server with the demo handlers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to a TOML config file, ~ is expanded",
				EnvVars:     []string{"ECHOSTREAM_CONFIG"},
				Destination: &cfgPath,
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := config.Default()
			if cfgPath != "" {
				var err error
				if cfg, err = config.Load(cfgPath); err != nil {
					return err
				}
			}
			logging.Configure(logging.Options{
				Level:  cfg.LogLevel,
				Pretty: cfg.LogPretty,
				App:    cfg.ServiceName,
				Out:    ctx.App.ErrWriter,
			})
			return Serve(ctx.Context, cfg)
		},
	}
}

// NewServer builds a server from cfg with the standard middleware chain and the demo
// handlers registered.
func NewServer(cfg config.Config) (*server.Server, error) {
	mws := []middleware.Middleware{
		middleware.RecoveryMiddleware(),
		middleware.LoggingMiddleware(),
		middleware.MetricsMiddleware(),
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.HandlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}

	svr := server.NewServer(
		server.WithHeartbeat(cfg.HeartbeatInterval),
		server.WithCodec(cfg.Codec),
		server.WithContextOptions(
			core.WithRequestTimeout(cfg.RequestTimeout),
			core.WithMiddleware(mws...),
		),
	)
	if err := RegisterDemo(svr); err != nil {
		return nil, err
	}
	return svr, nil
}

type announceRegistry interface {
	registry.Registry
	Close() error
}

var openRegistry = func(endpoints []string) (announceRegistry, error) {
	return registry.NewEtcdRegistry(endpoints)
}

// Serve runs until ctx is done, then shuts down gracefully. A failed etcd announcement
// shuts down whatever already started before returning.
func Serve(ctx context.Context, cfg config.Config) error {
	metrics.Register()
	svr, err := NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	var httpServers []*http.Server
	var instance registry.ServiceInstance

	if cfg.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return errors.Join(err, svr.Shutdown(cfg.ShutdownTimeout))
		}
		instance = registry.ServiceInstance{Addr: ln.Addr().String(), Protocol: registry.ProtocolTCP, Weight: 1}
		g.Go(func() error { return svr.ServeListener(ln) })
	}
	if cfg.WSListen != "" {
		mux := http.NewServeMux()
		mux.Handle(WebSocketPath, svr.WebSocketHandler())
		hs := &http.Server{Addr: cfg.WSListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		httpServers = append(httpServers, hs)
		if instance.Addr == "" {
			instance = registry.ServiceInstance{Addr: "ws://" + cfg.WSListen + WebSocketPath, Protocol: registry.ProtocolWebSocket, Weight: 1}
		}
		g.Go(func() error { return listenAndServe(hs, "websocket") })
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		httpServers = append(httpServers, hs)
		g.Go(func() error { return listenAndServe(hs, "metrics") })
	}

	// started before announcing so a failed announcement still closes the listeners
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		var errList []error
		for _, hs := range httpServers {
			if err := hs.Shutdown(shutdownCtx); err != nil {
				errList = append(errList, err)
			}
		}
		if err := svr.Shutdown(cfg.ShutdownTimeout); err != nil {
			errList = append(errList, err)
		}
		return errors.Join(errList...)
	})

	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := openRegistry(cfg.EtcdEndpoints)
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("open registry: %w", err), g.Wait())
		}
		defer reg.Close()
		if cfg.AdvertiseAddr != "" {
			instance.Addr = cfg.AdvertiseAddr
		}
		if err := svr.Announce(ctx, reg, cfg.ServiceName, instance, cfg.RegistryTTL); err != nil {
			cancel()
			return errors.Join(err, g.Wait())
		}
		log.Info().Str("service", cfg.ServiceName).Str("addr", instance.Addr).Msg("announced in etcd")
	}
	return g.Wait()
}

func listenAndServe(hs *http.Server, what string) error {
	log.Info().Str("addr", hs.Addr).Msgf("%s endpoint listening", what)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s endpoint: %w", what, err)
	}
	return nil
}
