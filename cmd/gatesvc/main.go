package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"

	config "github.com/printwatch/printwatch-services/configs"
	"github.com/printwatch/printwatch-services/internal/agent/webcam"
	"github.com/printwatch/printwatch-services/internal/gatesvc/broker"
	"github.com/printwatch/printwatch-services/internal/gatesvc/db"
	handlers "github.com/printwatch/printwatch-services/internal/gatesvc/handlers"
	"github.com/printwatch/printwatch-services/internal/gatesvc/routes"
	"github.com/printwatch/printwatch-services/internal/gatesvc/store"
	"github.com/printwatch/printwatch-services/internal/gatesvc/ws"
	nats "github.com/printwatch/printwatch-services/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "gate"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func frameRetention() time.Duration {
	v := os.Getenv("FRAME_RETENTION")
	if v == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("Invalid FRAME_RETENTION value: %v", err)
	}
	return d
}

func main() {

	// mongo connection, frame metadata tables
	mdb, cancelMongo, err := db.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to mongo: %v", err)
	}
	defer cancelMongo()
	log.Printf("mongo connection established successfully")

	if err := db.CreateTTLIndexForCollection(mdb, "frames"); err != nil {
		log.Fatalf("Failed to ensure frames TTL index: %v", err)
	}

	frameStore := store.NewFrameStore(mdb, frameRetention())

	// Connect to NATS
	n, err := nats.Connect()
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(0)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// agent socket registry and detection broker
	sws := ws.NewWs()
	brk := broker.NewBroker(n.Conn, sws)
	sws.OnAlert = brk.PublishAlertEvent

	predSub, err := brk.SubscribePredictions()
	if err != nil {
		log.Errorf("Error: unable to subscribe to predictions %v", err)
		os.Exit(0)
	}
	hbSub, err := brk.SubscribeHeartbeats()
	if err != nil {
		log.Errorf("Error: unable to subscribe to heartbeats %v", err)
		os.Exit(0)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	rateLimitStr := os.Getenv("RATE_LIMIT")
	rateLimit, err := strconv.Atoi(rateLimitStr)
	if err != nil {
		log.Fatalf("Invalid RATE_LIMIT value: %v", err)
	}
	r.Use(httprate.LimitByIP(rateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(sws, brk, brk, frameStore, webcam.ImageInfo)
	routes.InitAuth()
	routes.SetRoutes(r, h)

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + os.Getenv("GATE_SERVICE_PORT"),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	predSub.Unsubscribe()
	hbSub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
