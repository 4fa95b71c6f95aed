package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trymwestin/nexecur/internal/core/poll"
	"github.com/trymwestin/nexecur/internal/core/state"
	"github.com/trymwestin/nexecur/internal/httpapi"
	"github.com/trymwestin/nexecur/internal/mqtt"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log)

		client, err := newClient(cfg, log)
		if err != nil {
			return err
		}

		bus := state.NewEventBus(log.With("component", "bus"))
		store := state.NewStore(bus, log.With("component", "state"))
		poller := poll.New(client, store, cfg.Poll.Interval, log.With("component", "poll"))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Log in up front so credential problems fail fast instead of
		// surfacing on the first poll.
		loginCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		err = client.Login(loginCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("initial login: %w", err)
		}
		log.Info("logged in", "device_id", client.DeviceID())

		if err := poller.Start(ctx); err != nil {
			return err
		}
		defer poller.Stop(context.Background())

		var pub mqtt.Publisher
		if cfg.MQTT.Enabled {
			pub = mqtt.NewHAPublisher(mqtt.MQTTConfig{
				Broker:      cfg.MQTT.Broker,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				DeviceID:    cfg.MQTT.DeviceID,
				SiteName:    cfg.MQTT.SiteName,
			}, poller, store, bus, log.With("component", "mqtt"))
		} else {
			pub = mqtt.NewStubPublisher(log.With("component", "mqtt"))
		}
		if err := pub.Start(ctx); err != nil {
			return err
		}
		defer pub.Stop(context.Background())

		api := httpapi.NewServer(poller, store, bus, cfg.HTTP.CORSAll, log.With("component", "http"))
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
			log.Info("shutting down")
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		}

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
