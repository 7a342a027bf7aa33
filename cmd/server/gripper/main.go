package main

// cSpell:ignore mqtt modbus godotenv
import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fisaks/uhn-gripper/internal/catalog"
	"github.com/fisaks/uhn-gripper/internal/config"
	"github.com/fisaks/uhn-gripper/internal/gripper"
	"github.com/fisaks/uhn-gripper/internal/logging"
	"github.com/fisaks/uhn-gripper/internal/messaging"
	"github.com/fisaks/uhn-gripper/internal/modbus"
	"github.com/fisaks/uhn-gripper/internal/panel"
	"github.com/fisaks/uhn-gripper/internal/supervisor"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// .env is optional
	_ = godotenv.Load()
	logging.Init()

	mqttURL := getenv("MQTT_URL", "tcp://localhost:1883")
	path := getenv("GRIPPER_CONFIG_PATH", "/etc/uhn/gripper.json")
	name := getenv("GRIPPER_NAME", "gripper1")
	topicPrefix := "uhn/" + name + "/gripper"

	cfg, err := config.Load(path)
	if err != nil {
		logging.Fatal("Gripper config error", "path", path, "error", err)
	}
	logging.Info("Loaded config",
		"transport", cfg.Transport.Type,
		"address", cfg.Transport.Address(),
		"deviceId", cfg.Gripper.DeviceID,
		"signal", cfg.Signal.Address,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := modbus.NewClient(cfg.Transport)
	if err != nil {
		logging.Fatal("Transport init failed", "error", err)
	}
	signalIO, err := modbus.NewSignalClient(cfg.Signal)
	if err != nil {
		logging.Fatal("Signal connection init failed", "error", err)
	}

	ctl := gripper.NewController(transport, gripper.NewRegistry())

	var sup *supervisor.Supervisor
	cat := catalog.NewGripperCatalog(cfg.Gripper.DeviceID, func() int { return sup.IndicatorChannel() })

	broker := messaging.NewGripperBroker(messaging.BrokerConfig{
		BrokerURL:         mqttURL,
		ClientName:        name,
		TopicPrefix:       topicPrefix,
		ConnectTimeout:    10 * time.Second,
		PublishTimeout:    5 * time.Second,
		SubscribeTimeout:  5 * time.Second,
		CommandBufferSize: cfg.CommandBufferSize,
	}, cat.OnConnectPublisher(topicPrefix+"/catalog"), time.Duration(cfg.HeartbeatInterval)*time.Second)

	sup, err = supervisor.New(supervisor.Config{
		DeviceID:             cfg.Gripper.DeviceID,
		Link:                 cfg.Gripper.Link(),
		Tick:                 cfg.Supervisor.Tick(),
		MaxReconnectAttempts: cfg.Supervisor.MaxReconnectAttempts,
		Cooldown:             cfg.Supervisor.Cooldown(),
		ProbeTimeout:         cfg.Supervisor.ProbeTimeout(),
		IndicatorChannel:     cfg.Signal.IndicatorChannel,
	}, ctl, signalIO, supervisor.WithPublisher(broker))
	if err != nil {
		logging.Fatal("Supervisor init failed", "error", err)
	}

	pnl := panel.New(ctl, sup, signalIO, panel.Options{
		ClampTolerance:    cfg.Wait.ClampTolerance,
		RotationTolerance: cfg.Wait.RotationTolerance,
		WaitTimeout:       cfg.Wait.Timeout(),
		CheckInterval:     cfg.Wait.CheckInterval(),
		Link:              cfg.Gripper.Link(),
	})
	dispatcher := panel.NewDispatcher(pnl, broker, cfg.CommandBufferSize, panel.WithResync(broker.ClearPublishedState))

	if err := broker.Connect(ctx); err != nil {
		logging.Warn("MQTT connect failed, retrying in background", "error", err)
	}
	if err := broker.StartCommandSubscriber(ctx, dispatcher); err != nil {
		logging.Warn("Command subscriber not started", "error", err)
	}

	go sup.Run(ctx)
	go dispatcher.Run(ctx)
	go pnl.RunStatus(ctx, cfg.StatusInterval(), broker)

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("Shutting down", "signal", s)
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	sup.Shutdown(shutdownCtx)
	pnl.Stop()
	if err := signalIO.Close(); err != nil {
		logging.Warn("Signal connection close failed", "error", err)
	}
	if err := transport.Close(); err != nil {
		logging.Warn("Transport close failed", "error", err)
	}
	if err := broker.Close(shutdownCtx); err != nil {
		logging.Warn("MQTT close failed", "error", err)
	}
	logging.Info("bye")
}
