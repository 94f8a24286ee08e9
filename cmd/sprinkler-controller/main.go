// Command sprinkler-controller runs zone schedules, drives the valve shift
// register and exchanges commands and status with an MQTT broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bmpc/esp8266-sprinkler-controller/internal/config"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/controller"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/cron"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/gpio"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/logging"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/logic"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/metrics"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/mqtt"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/status"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/store"
	"github.com/bmpc/esp8266-sprinkler-controller/internal/web"
)

var version = "dev"

type flags struct {
	configPath string
	broker     string
	httpAddr   string
	printState bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "sprinkler-controller",
		Short:         "Irrigation zone controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("broker") {
				cfg.MQTT.Broker = f.broker
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTP.Addr = f.httpAddr
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			if f.printState {
				return printState(cfg)
			}
			return run(cfg)
		},
	}
	root.Flags().StringVarP(&f.configPath, "config", "c", "/etc/sprinkler/config.yaml", "Configuration file path")
	root.Flags().StringVar(&f.broker, "broker", "", "MQTT broker address (overrides config)")
	root.Flags().StringVar(&f.httpAddr, "http", "", "HTTP status address, empty to disable (overrides config)")
	root.Flags().BoolVar(&f.printState, "print-state", false, "Print the persisted state and exit")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sprinkler-controller %s\n", version)
		},
	})
	return root
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewGateway(&store.MemoryMedium{}), nil
	case "sqlite":
		m, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		return store.NewGateway(m), nil
	default:
		return store.NewGateway(store.NewFileMedium(cfg.Store.Path)), nil
	}
}

func printState(cfg *config.Config) error {
	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	st, restored, err := controller.Restore(s, cfg.LogicZones(), zerolog.Nop())
	if err != nil {
		return err
	}
	if !restored {
		fmt.Println("no snapshot stored, showing defaults")
	}
	fmt.Printf("mode: %s, enabled: %t\n", st.Mode, st.Enabled)
	fmt.Printf("pending: %s\n", st.Pending)
	for _, z := range st.Zones.Zones() {
		fmt.Println(z)
	}
	return nil
}

func run(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	st, restored, err := controller.Restore(s, cfg.LogicZones(), log.Logger)
	if err != nil {
		return err
	}
	log.Info().Bool("restored", restored).Str("backend", cfg.Store.Backend).Msg("state loaded")

	var act gpio.Actuator
	if cfg.ShiftRegister.Enabled {
		pins := make([]int, len(cfg.Zones))
		for i, z := range cfg.Zones {
			pins[i] = z.Pin
		}
		sr, err := gpio.OpenShiftRegister(cfg.Pins(), pins)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		act = sr
	} else {
		act = gpio.LogActuator{Log: log.Logger}
	}
	defer act.Close()

	// Run offline if the broker is unreachable; schedules still fire.
	var (
		pub      mqtt.Publisher
		conn     mqtt.ConnectionStatus
		commands <-chan logic.Command
	)
	client, err := mqtt.Connect(context.Background(), cfg.MQTTOptions(), log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("mqtt unavailable, running offline")
		pub = offlinePublisher{log: log.Logger}
	} else {
		pub, conn, commands = client, client, client.Commands()
	}
	defer pub.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:       cfg.MQTT.Broker,
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		HTTPAddr:     cfg.HTTP.Addr,
		Store:        cfg.Store.Backend,
		TickInterval: cfg.Schedule.TickInterval,
		MaxSleep:     cfg.Schedule.MaxSleep,
		Tolerance:    cfg.Tolerance(),
	})
	m := metrics.New()

	ctrl := controller.New(controller.Deps{
		Store:     s,
		Publisher: pub,
		Actuator:  act,
		Metrics:   m,
		Tracker:   tracker,
		Cron:      cron.New(loc),
		Log:       log.Logger,
		Tolerance: cfg.Tolerance(),
		MaxSleep:  cfg.Schedule.MaxSleep,
	}, st)

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	log.Info().Str("broker", cfg.MQTT.Broker).Int("zones", len(cfg.Zones)).
		Dur("tick", cfg.Schedule.TickInterval).Msg("started")

	ticker := time.NewTicker(cfg.Schedule.TickInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctrl, tracker, conn, commands, cfg.Schedule.SettleWindow, time.Now, time.After, ticker.C, sigCh)
}

// runLoop announces the boot, gives retained commands a settle window to
// arrive, then alternates between passes and waiting. Interactive mode passes
// on every tick; background mode sleeps until the pending event is due.
// Commands are applied whenever they arrive.
func runLoop(ctrl *controller.Controller, tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, commands <-chan logic.Command, settle time.Duration, now func() time.Time, after func(time.Duration) <-chan time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	ctrl.Announce(now())

	settled := after(settle)
	for waiting := true; waiting; {
		select {
		case s := <-sig:
			return shutdown(ctrl, now, s)
		case cmd := <-commands:
			ctrl.HandleCommand(cmd, now())
		case <-settled:
			waiting = false
		}
	}

	ctrl.Pass(now())
	ctrl.FallBackIfIdle(now())
	refreshConnection(tracker, mqttStatus)

	for {
		var wake, ticks <-chan time.Time
		if ctrl.Mode() == logic.ModeBackground {
			wake = after(ctrl.PlanSleep(now()))
		} else {
			ctrl.Stay()
			ticks = tick
		}

		select {
		case s := <-sig:
			return shutdown(ctrl, now, s)
		case cmd := <-commands:
			// rejections are already reported on the log topic
			ctrl.HandleCommand(cmd, now())
		case <-ticks:
			// the ticker keeps its last value across background stretches
			ctrl.Pass(now())
		case <-wake:
			t := now()
			log.Debug().Time("at", t).Msg("woke for pending event")
			ctrl.Pass(t)
		}
		refreshConnection(tracker, mqttStatus)
	}
}

func shutdown(ctrl *controller.Controller, now func() time.Time, s os.Signal) error {
	log.Info().Str("signal", s.String()).Msg("shutting down")
	ctrl.Shutdown(now())
	return nil
}

func refreshConnection(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

// offlinePublisher stands in for the broker when it cannot be reached.
type offlinePublisher struct {
	log zerolog.Logger
}

func (p offlinePublisher) PublishZoneState(z logic.Zone) error {
	p.log.Debug().Int("zone", z.ID).Bool("active", z.Active).Msg("offline: zone state not published")
	return nil
}

func (p offlinePublisher) PublishModeState(mode logic.DeviceMode) error {
	p.log.Debug().Str("mode", mode.String()).Msg("offline: mode state not published")
	return nil
}

func (p offlinePublisher) PublishEnabledState(enabled bool) error {
	p.log.Debug().Bool("enabled", enabled).Msg("offline: enabled state not published")
	return nil
}

func (p offlinePublisher) PublishLog(msg string) error {
	p.log.Debug().Str("msg", msg).Msg("offline: log not published")
	return nil
}

func (p offlinePublisher) Close() error { return nil }
