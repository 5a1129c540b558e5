package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/softline/internal/api"
	"github.com/sebas/softline/internal/banner"
	"github.com/sebas/softline/internal/broadcast"
	"github.com/sebas/softline/internal/calllog"
	"github.com/sebas/softline/internal/callstate"
	"github.com/sebas/softline/internal/clock"
	"github.com/sebas/softline/internal/config"
	"github.com/sebas/softline/internal/credentials"
	"github.com/sebas/softline/internal/effects"
	"github.com/sebas/softline/internal/engine/sipua"
	"github.com/sebas/softline/internal/health"
	"github.com/sebas/softline/internal/logger"
	"github.com/sebas/softline/internal/platform"
	"github.com/sebas/softline/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "softline: %v\n", err)
		os.Exit(2)
	}

	logger.SetLevel(cfg.LogLevel)
	log := logger.InitLogger(os.Stdout)

	banner.Print(os.Stdout, version, []banner.ConfigLine{
		{Label: "Domain", Value: cfg.SIP.Domain},
		{Label: "Registrar", Value: cfg.SIP.Registrar},
		{Label: "SIP", Value: cfg.SIP.Listen},
		{Label: "Advertise", Value: cfg.SIP.Advertise},
		{Label: "API", Value: cfg.API.Addr},
		{Label: "Health", Value: cfg.API.HealthAddr},
		{Label: "MQTT", Value: cfg.MQTT.Broker},
		{Label: "Call log", Value: cfg.CallLog.Path},
		{Label: "Call", Value: cfg.Call},
	})

	if err := run(cfg, log); err != nil {
		log.Error("[Main] Exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.New()

	// Call history
	var (
		store  *calllog.Store
		writer *calllog.AsyncWriter
	)
	if cfg.CallLog.Path != "" {
		var err error
		store, err = calllog.Open(ctx, cfg.CallLog.Path)
		if err != nil {
			return fmt.Errorf("open call log: %w", err)
		}
		defer func() { _ = store.Close() }()
		writer = calllog.NewAsyncWriter(store, 64, log)
	}

	// Effects
	var factory effects.PlayerFactory = effects.NewSilentPlayers(clk)
	if cfg.Audio.Device {
		players, err := effects.NewDevicePlayers(cfg.Audio.SoundsDir, log)
		if err != nil {
			log.Warn("[Main] Audio device unavailable, effects are silent", "error", err)
		} else {
			defer func() { _ = players.Close() }()
			factory = players
		}
	}
	fx := effects.NewScheduler(factory, clk, log)

	// Publishers
	hub := broadcast.NewHub(log)
	publishers := []broadcast.Publisher{hub, broadcast.NewLoggingPublisher(log)}
	var healthSrv *health.Server
	if cfg.API.HealthAddr != "" {
		healthSrv = health.NewServer(cfg.API.HealthAddr, log)
		publishers = append(publishers, healthSrv)
	}
	if cfg.MQTT.Broker != "" {
		mq, err := broadcast.NewMQTTPublisher(broadcast.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Retain:      cfg.MQTT.Retain,
		}, log)
		if err != nil {
			log.Warn("[Main] MQTT disabled", "error", err)
		} else {
			publishers = append(publishers, mq)
		}
	}
	pub := broadcast.NewMultiPublisher(publishers...)
	defer func() { _ = pub.Close() }()

	ringerMode, _ := cfg.Audio.Ringer()
	base := session.Config{
		Engine: sipua.New(sipua.Config{
			Domain:        cfg.SIP.Domain,
			Registrar:     cfg.SIP.Registrar,
			ListenAddr:    cfg.SIP.Listen,
			AdvertiseAddr: cfg.SIP.Advertise,
			Expires:       cfg.SIP.Expires,
			InviteTimeout: cfg.SIP.InviteTimeout,
			Logger:        log,
		}),
		Credentials: credentials.NewFile(cfg.SIP.Credentials),
		Effects:     fx,
		Publisher:   pub,
		AudioFocus:  platform.NewLocalAudioFocus(log),
		Ringer:      platform.NewMemoryRinger(ringerMode),
		Clock:       clk,
		Logger:      log,
		OnIncomingCall: func(s callstate.Session) {
			log.Info("[Main] Incoming call", "peer", s.PeerID)
		},
		TerminateCheckInterval:  cfg.Session.TerminateCheck,
		EncryptionCheckInterval: cfg.Session.EncryptionCheck,
		UnregisterGrace:         cfg.Session.UnregisterGrace,
		JoinTimeout:             cfg.Session.JoinTimeout,
		RefreshMinInterval:      cfg.Session.RefreshMinInterval,
		MaxWorkerRestarts:       cfg.Session.MaxWorkerRestarts,
	}
	if writer != nil {
		base.CallLog = writer
	}
	registry := session.NewRegistry(base)

	g, gctx := errgroup.WithContext(ctx)

	apiCfg := api.Config{
		Addr:        cfg.API.Addr,
		Sessions:    api.FromRegistry(gctx, registry),
		Events:      hub,
		CommandRate: cfg.API.CommandRate,
		Logger:      log,
	}
	if store != nil {
		apiCfg.History = store
	}
	apiSrv := api.NewServer(apiCfg)

	if writer != nil {
		// Sessions still record calls while they wind down, so the writer
		// outlives gctx and is closed once they are gone.
		go writer.Run(context.WithoutCancel(ctx))
	}
	g.Go(func() error { return apiSrv.Run(gctx) })
	if healthSrv != nil {
		g.Go(func() error { return healthSrv.Run(gctx) })
	}
	g.Go(func() error {
		err := credentials.Watch(gctx, cfg.SIP.Credentials, log, func() {
			if o, ok := registry.Current(); ok {
				_ = o.Connect()
			}
		})
		if err != nil {
			// The session still polls credentials on connect.
			log.Warn("[Main] Credentials watch disabled", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		monitor := platform.NewConnectivityMonitor(platform.SystemInterfaces, clk, cfg.Platform.ConnectivityInterval, log)
		monitor.Run(gctx, func(connected bool) {
			if o, ok := registry.Current(); ok {
				_ = o.ConnectivityChanged(connected)
			}
		})
		return nil
	})

	if _, err := registry.Request(gctx, cfg.Call); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Info("[Main] Softline started", "version", version, "pid", os.Getpid())

	<-gctx.Done()
	log.Info("[Main] Shutting down")

	// Sessions end themselves on context cancellation; give them time to
	// unregister before the publishers go away.
	registry.Close()
	waitDone := make(chan struct{})
	go func() {
		registry.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.Session.UnregisterGrace + cfg.Session.JoinTimeout + time.Second):
		log.Warn("[Main] Session did not finish in time")
	}

	if writer != nil && !writer.Close(5*time.Second) {
		log.Warn("[Main] Call log not drained", "dropped", writer.Dropped())
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
