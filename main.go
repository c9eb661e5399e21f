package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/config"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/spooky-finn/go-depth-bridge/infrastructure/logging"
	promclient "github.com/spooky-finn/go-depth-bridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-depth-bridge/provider"
	"github.com/spooky-finn/go-depth-bridge/rpc"
	"github.com/spooky-finn/go-depth-bridge/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if err := logging.Configure(logrus.StandardLogger(), cfg.Logging); err != nil {
		logrus.WithError(err).Fatal("failed to configure logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := promclient.StartPromClientServer(ctx, cfg.Metrics.Addr); err != nil {
			logrus.WithError(err).Error("prometheus server stopped")
		}
	}()

	connManager := provider.NewConnectionManager(cfg)
	hub := usecase.NewMarketDataHub(ctx, connManager, cfg)
	if err := hub.SwitchSymbol(cfg.Symbol, cfg.Threshold); err != nil {
		logrus.WithError(err).Fatal("failed to start market data")
	}

	lis, err := net.Listen("tcp", cfg.RPC.Addr)
	if err != nil {
		logrus.WithError(err).Fatalf("failed to listen on %s", cfg.RPC.Addr)
	}

	srv := rpc.NewGRPCServer(rpc.NewServer(hub, &rpc.ValidationServiceConfig{
		AvailableMarkets: domain.MarketTypes,
	}))

	go func() {
		logrus.Infof("grpc server listening at %s", lis.Addr())
		if err := srv.Serve(lis); err != nil {
			logrus.WithError(err).Error("grpc server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	// closing the hub ends every subscription stream, which GracefulStop
	// waits for
	hub.Close()
	srv.GracefulStop()
}
