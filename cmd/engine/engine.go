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

	"civicmesh/consensus/admission"
	"civicmesh/consensus/identity"
	"civicmesh/engine/actors"
	"civicmesh/engine/library"
	"civicmesh/engine/store"
	"civicmesh/engine/telemetry"
	"civicmesh/messaging/eventconductor"
	"civicmesh/messaging/mesh"
	"civicmesh/messaging/meshwriter"
	"civicmesh/messaging/relays"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

func main() {
	// Various aspect of this application require global and local settings. To keep things
	// clean and tidy we put these settings in a Viper configuration.
	conf := viper.New()
	actors.InitConfig(conf)
	settings := actors.LoadSettings(conf)
	library.SetLogLevel(settings.LogLevel)

	db, err := store.Open(settings.StoreBackend, settings.DataDir)
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}
	defer db.Close()

	wallet, err := actors.LoadOrCreateWallet(db)
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}
	signer, err := admission.NewSigner(wallet.PrivateKey)
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	sink := telemetry.Multi{telemetry.LogSink{}, telemetry.NewPrometheusSink(registry)}
	metrics := serveMetrics(settings.MetricsAddr, registry)

	controller := admission.NewController(admission.Config{
		MinTrustScore: settings.MinTrustScore,
		Validator:     identity.NewValidator(settings.AcceptedRoots),
		Signer:        signer,
		Sink:          sink,
	})
	for _, r := range settings.Rounds {
		controller.OpenRound(r.TopicID, r.SynthesisID, r.Epoch)
		library.LogCLI(fmt.Sprintf("opened round %s/%s at epoch %d", r.TopicID, r.SynthesisID, r.Epoch), 4)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var transport mesh.Transport
	var remote chan relays.Remote
	var intents chan relays.Intent
	if settings.Offline {
		library.LogCLI("offline: mesh writes stay in memory and no vote intents arrive", 4)
		transport = mesh.NewMemory()
	} else {
		rt, err := relays.New(relays.Config{
			URLs:            settings.Relays,
			PrivateKey:      wallet.PrivateKey,
			PublishInterval: settings.PublishInterval,
			QueryTimeout:    settings.IOTimeout,
		})
		if err != nil {
			library.LogCLI(err.Error(), 0)
			os.Exit(1)
		}
		defer rt.Close()
		remote = make(chan relays.Remote)
		rt.Subscribe(ctx, remote, 0)
		intents = make(chan relays.Intent)
		rt.SubscribeIntents(ctx, intents, 0)
		transport = rt
	}

	writer := meshwriter.New(transport, meshwriter.Config{
		AckProbeDelay: settings.AckProbeDelay,
		AckProbes:     settings.AckProbes,
		AckTimeout:    settings.AckTimeout,
		IOTimeout:     settings.IOTimeout,
		BatchLimit:    settings.BatchLimit,
	})
	conductor, err := eventconductor.New(eventconductor.Config{
		Admission: controller,
		Writer:    writer,
		Store:     db,
		Sink:      sink,
	})
	if err != nil {
		library.LogCLI(err.Error(), 0)
		os.Exit(1)
	}
	conductor.Restore()
	if remote != nil {
		go conductor.Run(ctx, remote, 0)
		go conductor.Intake(ctx, intents)
		go conductor.Republish(ctx)
	}
	go flushEvery(ctx, conductor, settings.FlushInterval)

	interrupt := make(chan struct{})
	go cliListener(interrupt, conf, wallet, conductor)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-interrupt:
	case <-signals:
	}

	cancel()
	conductor.Flush()
	shutdown, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := metrics.Shutdown(shutdown); err != nil {
		library.LogCLI(err.Error(), 2)
	}
	fmt.Println("bye")
}

func flushEvery(ctx context.Context, c *eventconductor.Conductor, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			library.LogCLI(fmt.Sprintf("metrics endpoint stopped: %s", err.Error()), 2)
		}
	}()
	return srv
}
