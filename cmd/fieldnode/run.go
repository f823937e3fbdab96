package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/drivers/periphi2c"
	"fieldnode-go/services/config"
	"fieldnode-go/services/heartbeat"
	"fieldnode-go/services/node"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

type RunOptions struct {
	*RootOptions
	Metrics string
	Cycles  int
	Tick    time.Duration
	USB     bool
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node's wake cycles",
		Long: `Run the wake-cycle controller against the configured sensors, gauge
and uplink. Deep sleep is simulated by waiting for the RTC alarm.

Example:
  fieldnode run --cycles 3
  fieldnode run -d pi --metrics :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "serve prometheus metrics on this address (overrides config)")
	cmd.Flags().IntVar(&opts.Cycles, "cycles", 0, "stop after this many wake cycles (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.Tick, "tick", 100*time.Millisecond, "scheduler idle tick")
	cmd.Flags().BoolVar(&opts.USB, "usb", false, "report USB attached (stay awake)")

	return cmd
}

func runNode(parent context.Context, opts *RunOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if opts.Metrics != "" {
		cfg.Metrics = opts.Metrics
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nopts := node.Options{SyncRTC: true, USB: opts.USB}
	if needsI2C(cfg) {
		if _, err := host.Init(); err != nil {
			return err
		}
		b, err := periphi2c.Open(cfg.I2C.Bus, physic.Frequency(cfg.I2C.SpeedKHz)*physic.KiloHertz)
		if err != nil {
			return err
		}
		defer b.Close()
		nopts.I2C = b
		logger.WithField("bus", b.String()).Info("i2c bus open")
	}

	n, err := node.Open(cfg, nopts)
	if err != nil {
		return err
	}
	defer n.Close()

	if cfg.Metrics != "" {
		srv := &http.Server{Addr: cfg.Metrics, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
		defer srv.Close()
		logger.WithField("addr", cfg.Metrics).Info("serving metrics")
	}

	_ = heartbeat.New(nil, nil).Start(ctx, n.Connection("heartbeat"))

	if opts.Cycles > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		conn := n.Connection("cycles")
		go stopAfter(ctx, cancel, conn, conn.Subscribe(bus.TopicSleep), opts.Cycles)
	}

	err = n.Run(ctx, opts.Tick)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.WithField("cycles", n.Sleeps()).WithField("next_id", n.Store.Cursor().NextID).Info("node stopped")
	return err
}

// stopAfter cancels once the node has gone to sleep cycles times.
func stopAfter(ctx context.Context, cancel context.CancelFunc, conn *bus.Connection, sub *bus.Subscription, cycles int) {
	defer conn.Disconnect()
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Channel():
			seen++
			if seen >= cycles {
				cancel()
				return
			}
		}
	}
}

func needsI2C(cfg config.Config) bool {
	if cfg.Gauge.Kind == "bq35100" {
		return true
	}
	for _, s := range cfg.Slots {
		if s.Kind == "aht20" {
			return true
		}
	}
	return false
}
