package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusRobotDelivery/internal/auth"
	"campusRobotDelivery/internal/config"
	"campusRobotDelivery/internal/db"
	"campusRobotDelivery/internal/dispatch"
	"campusRobotDelivery/internal/events"
	grpcserver "campusRobotDelivery/internal/grpc"
	"campusRobotDelivery/internal/httpapi"
	"campusRobotDelivery/internal/lifecycle"
	"campusRobotDelivery/internal/logger"
	"campusRobotDelivery/internal/orders"
	"campusRobotDelivery/internal/telemetry"
	"campusRobotDelivery/models"
	"campusRobotDelivery/repository"
)

const shutdownTimeout = 5 * time.Second

func main() {
	issue := flag.String("issue-token", "", "print a signed token for this principal name and exit")
	kind := flag.String("kind", models.RoleAdmin, "principal kind for -issue-token (admin, vendor, customer)")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of the issued token; 0 means no expiry")
	rollback := flag.Bool("rollback", false, "roll back the latest migration and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if *issue != "" {
		token, err := auth.IssueToken(cfg.Auth.JWTSecret, *issue, *kind, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetAppLogger()
	log.Infof("Configuration loaded: %v", cfg)

	// Open DB
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Errorf("close db: %v", err)
		}
	}()

	if *rollback {
		if err := db.RollbackLast(d); err != nil {
			log.Fatalf("rollback: %v", err)
		}
		log.Info("latest migration rolled back")
		return
	}

	store := repository.NewSQLStore(d)
	users := repository.NewUserRepository(d)
	restaurants := repository.NewRestaurantRepository(d)

	// Events: in-process bus, mirrored to Kafka when brokers are configured.
	bus := events.NewBus(logger.GetLogger("events"))
	var pub events.Publisher = bus
	var kafka *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, cfg.Kafka.PublishTimeout)
		pub = events.Multi{bus, kafka}
		log.WithField("brokers", cfg.Kafka.Brokers).Info("kafka event sink enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleet := telemetry.NewFleet(telemetry.FleetOptions{
		Robots:    store,
		Publisher: pub,
		Logger:    logger.GetLogger("telemetry"),
	})
	hub := telemetry.NewHub(fleet, logger.GetLogger("telemetry"))
	go hub.Run(ctx)
	if err := hub.Forward(ctx, bus); err != nil {
		log.Fatalf("subscribe telemetry hub: %v", err)
	}

	var automaton *lifecycle.Automaton
	dispatchOpts := dispatch.Options{
		PollInterval: cfg.Dispatch.AssignmentPollInterval(),
		Fleet:        fleet,
		Publisher:    pub,
		Logger:       logger.GetLogger("dispatch"),
	}
	if cfg.Dispatch.EnableOrderAutomation {
		automaton = lifecycle.NewAutomaton(store, lifecycle.Options{
			AssignedToEnRoute:  cfg.Dispatch.AssignedToEnRouteDelay(),
			EnRouteToDelivered: cfg.Dispatch.EnRouteToDeliveredDelay(),
			ReconcileInterval:  cfg.Dispatch.AutomationPollInterval(),
			Timers:             store,
			Publisher:          pub,
			Fleet:              fleet,
			Logger:             logger.GetLogger("lifecycle"),
		})
		// Assigned only here so a disabled automaton stays a nil interface.
		dispatchOpts.Scheduler = automaton
	}
	dispatcher := dispatch.New(store, dispatchOpts)
	orderService := orders.NewService(store, dispatcher, logger.GetLogger("orders"))

	fleet.Start(ctx)
	if automaton != nil {
		automaton.Start(ctx)
	} else {
		log.Info("order automation disabled")
	}
	if cfg.Dispatch.EnableAssignmentPolling {
		dispatcher.Start(ctx)
	} else {
		log.Info("robot assignment polling disabled")
	}

	// Start gRPC
	shutdownGRPC, err := grpcserver.StartGRPC(cfg, &grpcserver.DispatchServer{
		Users:      users,
		Vendors:    restaurants,
		Orders:     orderService,
		Robots:     store,
		Dispatcher: dispatcher,
		Fleet:      fleet,
		Log:        logger.GetLogger("grpc"),
	})
	if err != nil {
		log.Fatalf("start grpc: %v", err)
	}
	log.Infof("gRPC server listening on %s", cfg.GRPC.Address)

	// Start HTTP dashboard
	httpServer := httpapi.SetupRoutes(httpapi.Deps{
		Store:  store,
		Fleet:  fleet,
		Hub:    hub,
		Logger: logger.GetLogger("http"),
	})
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.Run(cfg.HTTP.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// Wait for signal
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-httpErr:
		log.WithError(err).Error("http server failed; shutting down")
	}

	if err := httpServer.Shutdown(shutdownTimeout); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := shutdownGRPC(sctx); err != nil {
		log.Errorf("grpc shutdown: %v", err)
	}

	dispatcher.Stop()
	if automaton != nil {
		automaton.Stop()
	}
	fleet.Stop()
	cancel()

	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.Errorf("close kafka: %v", err)
		}
	}
	if err := bus.Close(); err != nil {
		log.Errorf("close bus: %v", err)
	}
}
