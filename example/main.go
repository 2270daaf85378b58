package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	shepherd "github.com/FlockTeam/Shepherd-Daemon"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// DemoGatewayClient pretends to be a gateway connection library. Replace
// this with whatever gateway implementation you want to use; it only has
// to implement shepherd.GatewayClient and feed lifecycle events into
// Shepherd.Submit.
type DemoGatewayClient struct {
	logger zerolog.Logger

	closed *atomic.Bool
}

func NewDemoGatewayClient(logger zerolog.Logger) *DemoGatewayClient {
	return &DemoGatewayClient{
		logger: logger,

		closed: atomic.NewBool(false),
	}
}

func (gc *DemoGatewayClient) LaunchShard(ctx context.Context, shardID int32, initial bool) error {
	gc.logger.Info().Int32("shardId", shardID).Bool("initial", initial).Msg("Identifying")

	return gc.handshake(ctx)
}

func (gc *DemoGatewayClient) Reidentify(ctx context.Context, shardID int32, reason error) error {
	gc.logger.Info().Int32("shardId", shardID).Err(reason).Msg("Reidentifying")

	return gc.handshake(ctx)
}

func (gc *DemoGatewayClient) Reconnect(ctx context.Context, shardID int32) error {
	gc.logger.Info().Int32("shardId", shardID).Msg("Reconnecting")

	return gc.handshake(ctx)
}

func (gc *DemoGatewayClient) handshake(ctx context.Context) error {
	select {
	case <-time.After(250 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (gc *DemoGatewayClient) Close() error {
	gc.closed.Store(true)

	return nil
}

func (gc *DemoGatewayClient) IsClosed() bool {
	return gc.closed.Load()
}

func main() {
	_ = godotenv.Load()

	configurationPath := flag.String("configuration", os.Getenv("SHEPHERD_CONFIGURATION"), "Path to the configuration file")
	flag.Parse()

	configuration, err := shepherd.LoadConfiguration(replaceIfEmpty(*configurationPath, "shepherd.yaml"))
	if err != nil {
		println(err.Error())
		os.Exit(1)
	}

	logger, err := shepherd.NewLogger(configuration.Logging)
	if err != nil {
		println(err.Error())
		os.Exit(1)
	}

	sd, err := shepherd.NewShepherd(logger, configuration, NewDemoGatewayClient(logger))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create shepherd")
		os.Exit(1)
	}

	err = sd.Open()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open shepherd")
		sd.Close()
		os.Exit(1)
	}

	runErr := make(chan error, 1)

	go func() {
		runErr <- sd.Run()
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	select {
	case err = <-runErr:
		sd.Close()

		if err != nil {
			logger.Error().Err(err).Msg("Shepherd terminated")
			os.Exit(1)
		}
	case <-sc:
		sd.Close()
	}
}

func replaceIfEmpty(v string, s string) string {
	if v == "" {
		return s
	}

	return v
}
