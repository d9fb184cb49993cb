package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hybrasyl/server-sub005/config"
	"github.com/hybrasyl/server-sub005/metrics"
	"github.com/hybrasyl/server-sub005/network"
	"github.com/hybrasyl/server-sub005/types"
)

var errEmptyName = errors.New("empty player name")

func main() {
	log.SetOutput(os.Stdout)
	def := config.Default()

	app := &cli.App{
		Name:  "gateway",
		Usage: "lobby, login and world connection gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "lobby", Value: def.ListenAddrs[types.Lobby], Usage: "lobby listen address", EnvVars: []string{"GATEWAY_LOBBY"}},
			&cli.StringFlag{Name: "login", Value: def.ListenAddrs[types.Login], Usage: "login listen address", EnvVars: []string{"GATEWAY_LOGIN"}},
			&cli.StringFlag{Name: "world", Value: def.ListenAddrs[types.World], Usage: "world listen address", EnvVars: []string{"GATEWAY_WORLD"}},
			&cli.StringFlag{Name: "advertise", Value: def.AdvertiseHost, Usage: "IPv4 address sent to clients in redirects", EnvVars: []string{"GATEWAY_ADVERTISE"}},
			&cli.StringFlag{Name: "ws-addr", Usage: "websocket listen address, empty disables"},
			&cli.StringFlag{Name: "ws-role", Value: def.WebsocketRole.String(), Usage: "role served over websocket"},
			&cli.BoolFlag{Name: "kcp", Usage: "accept KCP instead of TCP"},
			&cli.IntFlag{Name: "max-conns", Usage: "concurrent connections per role, 0 is unlimited"},
			&cli.Float64Flag{Name: "rps-limit", Value: def.RPSLimit, Usage: "frames per second per session, 0 disables"},
			&cli.IntFlag{Name: "rps-burst", Value: def.RPSBurst, Usage: "frame burst per session"},
			&cli.IntFlag{Name: "max-frame", Value: PACKET_LIMIT, Usage: "largest accepted frame length"},
			&cli.DurationFlag{Name: "read-timeout", Value: def.ReadTimeout},
			&cli.DurationFlag{Name: "write-timeout", Value: def.WriteTimeout},
			&cli.DurationFlag{Name: "flush-interval", Value: def.FlushInterval},
			&cli.DurationFlag{Name: "sweep-interval", Value: def.SweepInterval},
			&cli.DurationFlag{Name: "heartbeat-interval", Value: def.HeartbeatInterval},
			&cli.DurationFlag{Name: "heartbeat-reap", Value: def.HeartbeatReap},
			&cli.DurationFlag{Name: "idle-after", Value: def.IdleAfter},
			&cli.DurationFlag{Name: "idle-disconnect", Value: def.IdleDisconnect},
			&cli.DurationFlag{Name: "redirect-ttl", Value: def.RedirectTTL},
			&cli.DurationFlag{Name: "save-interval", Value: def.SaveInterval},
			&cli.StringFlag{Name: "throttles", Usage: "YAML throttle table, empty uses the built-in table"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "prometheus listen address, empty disables"},
			&cli.StringFlag{Name: "health-addr", Usage: "gRPC health listen address, empty disables"},
			&cli.StringFlag{Name: "log-level", Value: def.LogLevel},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	cfg.ListenAddrs = map[types.Role]string{
		types.Lobby: c.String("lobby"),
		types.Login: c.String("login"),
		types.World: c.String("world"),
	}
	cfg.AdvertiseHost = c.String("advertise")
	cfg.WebsocketAddr = c.String("ws-addr")
	role, err := parseRole(c.String("ws-role"))
	if err != nil {
		return cfg, err
	}
	cfg.WebsocketRole = role
	cfg.KCP = c.Bool("kcp")
	cfg.MaxConns = c.Int("max-conns")
	cfg.RPSLimit = c.Float64("rps-limit")
	cfg.RPSBurst = c.Int("rps-burst")
	cfg.MaxFrameLength = c.Int("max-frame")
	cfg.ReadTimeout = c.Duration("read-timeout")
	cfg.WriteTimeout = c.Duration("write-timeout")
	cfg.FlushInterval = c.Duration("flush-interval")
	cfg.SweepInterval = c.Duration("sweep-interval")
	cfg.HeartbeatInterval = c.Duration("heartbeat-interval")
	cfg.HeartbeatReap = c.Duration("heartbeat-reap")
	cfg.IdleAfter = c.Duration("idle-after")
	cfg.IdleDisconnect = c.Duration("idle-disconnect")
	cfg.RedirectTTL = c.Duration("redirect-ttl")
	cfg.SaveInterval = c.Duration("save-interval")
	cfg.MetricsAddr = c.String("metrics-addr")
	cfg.HealthAddr = c.String("health-addr")
	cfg.LogLevel = c.String("log-level")

	if path := c.String("throttles"); path != "" {
		t, err := config.LoadThrottles(path)
		if err != nil {
			return cfg, err
		}
		cfg.Throttles = t
	}
	for _, r := range types.Roles {
		if _, _, err := cfg.Advertised(r); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func parseRole(s string) (types.Role, error) {
	for _, r := range types.Roles {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func run(cfg config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	var ctx context.Context
	ctx, stop = context.WithCancel(context.Background())
	defer stop()
	go sig_handler()

	srv := network.NewServer(cfg, openAuth{}, logSaver{})
	for _, role := range types.Roles {
		ln, err := network.Listen(cfg.ListenAddrs[role], cfg.KCP, cfg.MaxConns)
		if err != nil {
			return fmt.Errorf("listen %s: %w", role, err)
		}
		srv.Listen(role, ln)
	}

	hs := startHealth(ctx, cfg.HealthAddr)

	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error("metrics: ", err)
			}
		}()
	}
	if cfg.WebsocketAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ServeWebsocket(ctx, cfg.WebsocketAddr, cfg.WebsocketRole); err != nil {
				log.Error("websocket: ", err)
			}
		}()
	}

	wg.Add(2)
	go route(ctx, srv)
	go timer_work(ctx, srv, cfg.SaveInterval)

	if hs != nil {
		for _, role := range types.Roles {
			hs.SetServingStatus(role.String(), healthpb.HealthCheckResponse_SERVING)
		}
	}
	err = srv.Run(ctx)
	if hs != nil {
		hs.Shutdown()
	}
	stop()
	wg.Wait()
	return err
}

// startHealth serves the gRPC health protocol with one service per role.
func startHealth(ctx context.Context, addr string) *health.Server {
	if addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("health: ", err)
		return nil
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	for _, role := range types.Roles {
		hs.SetServingStatus(role.String(), healthpb.HealthCheckResponse_NOT_SERVING)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gs.Serve(lis); err != nil {
			log.Error("health: ", err)
		}
	}()
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	log.WithField("addr", addr).Info("health listening")
	return hs
}
