package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/sweeney/droplet/internal/config"
	"github.com/sweeney/droplet/internal/events"
	"github.com/sweeney/droplet/internal/logging"
	"github.com/sweeney/droplet/internal/metrics"
	"github.com/sweeney/droplet/internal/mqtt"
	"github.com/sweeney/droplet/internal/panel"
	"github.com/sweeney/droplet/internal/solenoid"
	"github.com/sweeney/droplet/internal/status"
	"github.com/sweeney/droplet/internal/web"
)

// statusRefresh is how often the MQTT connection state is copied into the
// tracker.
const statusRefresh = 5 * time.Second

func serve(opts *config.Options, sig <-chan os.Signal) error {
	logger := logging.GetLogger("main")

	b, err := openBoard(opts)
	if err != nil {
		return fmt.Errorf("open board: %w", err)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		PulseMs:  opts.Pulse().Milliseconds(),
		Broker:   opts.MQTTBroker,
		HTTPAddr: opts.HTTPAddr,
	})
	tracker.SetBoard(b.info)

	met := metrics.New()
	if b.drained != nil {
		met.RegisterDrain(b.drained)
	}

	bus := events.New()
	defer bus.Close()

	ctrl, err := solenoid.New(b.pin,
		solenoid.WithPulseDuration(opts.Pulse()),
		solenoid.WithLogger(logging.GetLogger("solenoid")),
		solenoid.WithObserver(tracker.Observe),
		solenoid.WithObserver(met.Observe),
		solenoid.WithObserver(func(e solenoid.Event) { bus.Publish(events.FromSolenoid(e)) }),
	)
	if err != nil {
		b.pin.Close()
		return err
	}

	p := panel.New(ctrl,
		panel.WithLogger(logging.GetLogger("panel")),
		panel.WithOnChange(tracker.SetPanel),
		panel.WithOnChange(func(v panel.View) { bus.Publish(events.PanelEvent{Time: time.Now(), View: v}) }),
	)

	// Bind before anything is announced so a busy port fails startup.
	var srv *web.Server
	var ln net.Listener
	if opts.HTTPAddr != "" {
		ln, err = listenHTTP(opts.HTTPAddr)
		if err != nil {
			ctrl.Release()
			return err
		}
		srv = web.New(opts.HTTPAddr, tracker, p,
			web.WithMetrics(met.Handler()),
			web.WithLogger(logging.GetLogger("web")),
		)
	}

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if opts.MQTTBroker != "" {
		rp := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     opts.MQTTBroker,
			ClientID:   opts.MQTTClientID,
			BufferSize: opts.MQTTBuffer,
			Logger:     logging.GetLogger("mqtt"),
		})
		publisher, mqttStatus = rp, rp
	} else {
		logger.Info("mqtt disabled")
	}
	subscribe(bus, publisher, logging.GetLogger("events"))
	publishStartup(publisher, tracker, logger)

	srvErr := make(chan error, 1)
	if srv != nil {
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
		logger.Info("http panel listening", "addr", ln.Addr().String())
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "error", err)
	} else if ok {
		logger.Debug("notified systemd")
	}

	logger.Info("started",
		"driver", opts.BoardDriver,
		"pin", opts.BoardPin,
		"pulse", opts.Pulse(),
		"broker", opts.MQTTBroker)

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	reason, runErr := runLoop(tracker, mqttStatus, ticker.C, sig, srvErr, logger)

	daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Stop taking requests first so no write follows the release.
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		cancel()
	}
	if err := ctrl.Release(); err != nil {
		logger.Error("release valve", "error", err)
	}

	publishShutdown(publisher, mqttStatus, tracker, reason, time.Now(), logger)
	if publisher != nil {
		warnUnsent(publisher, logger)
		publisher.Close()
	}
	return runErr
}

// runLoop keeps the tracker's MQTT state fresh until a signal arrives or the
// HTTP server fails. It returns the shutdown reason and the server error.
func runLoop(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, tick <-chan time.Time, sig <-chan os.Signal, srvErr <-chan error, logger *slog.Logger) (string, error) {
	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", "signal", s)
			return signalName(s), nil
		case err := <-srvErr:
			logger.Error("http server failed, shutting down", "error", err)
			return "HTTP_ERROR", fmt.Errorf("http server: %w", err)
		case <-tick:
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
		}
	}
}

// subscribe forwards valve events to MQTT and logs panel changes. Delivery
// runs on the bus goroutines, off the pin lock.
func subscribe(bus *events.Bus, publisher mqtt.Publisher, logger *slog.Logger) {
	bus.OnValve(func(e events.ValveEvent) {
		if e.Error != "" {
			logger.Warn("valve event", "op", e.Op, "state", e.State, "error", e.Error)
		}
		if publisher == nil {
			return
		}
		if err := publisher.Publish(e); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
			// Don't crash on publish failure
			logger.Warn("publish error", "error", err)
		}
	})
	bus.OnPanel(func(e events.PanelEvent) {
		logger.Debug("panel changed",
			"status", e.View.Status,
			"priming", e.View.Priming,
			"droplet_enabled", e.View.DropletEnabled)
	})
}

func publishStartup(publisher mqtt.Publisher, tracker *status.Tracker, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(event); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	} else {
		logger.Info("published startup event")
	}
}

func publishShutdown(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, reason string, now time.Time, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	event := mqtt.SystemEvent{
		Timestamp:  now,
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", reason),
	}
	if err := publisher.PublishSystem(event); err != nil {
		logger.Warn("failed to publish shutdown event", "error", err)
	} else {
		logger.Info("published shutdown event")
	}
}

// warnUnsent logs messages still waiting for the broker; Close drops them.
func warnUnsent(publisher mqtt.Publisher, logger *slog.Logger) int {
	b, ok := publisher.(interface{ Buffered() int })
	if !ok {
		return 0
	}
	n := b.Buffered()
	if n > 0 {
		logger.Warn("dropping unsent mqtt messages", "count", n)
	}
	return n
}

func listenHTTP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
