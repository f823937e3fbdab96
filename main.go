package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"fieldnode-go/services/config"
	"fieldnode-go/services/heartbeat"
	"fieldnode-go/services/node"

	logger "github.com/sirupsen/logrus"
)

// Boots the simulated node from its embedded profile and runs it until
// interrupted. cmd/fieldnode is the full host tool.
func main() {
	cfg, err := config.Load("sim", "")
	if err != nil {
		logger.WithError(err).Fatal("config")
	}

	n, err := node.Open(cfg, node.Options{SyncRTC: true})
	if err != nil {
		logger.WithError(err).Fatal("boot")
	}
	defer n.Close()
	logger.WithField("device", cfg.Device).Info("boot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_ = heartbeat.New(nil, nil).Start(ctx, n.Connection("heartbeat"))

	_ = n.Run(ctx, 100*time.Millisecond)
}
