package main

import (
	"context"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	config "github.com/printwatch/printwatch-services/configs"
	"github.com/printwatch/printwatch-services/internal/detectsvc/broker"
	"github.com/printwatch/printwatch-services/internal/detectsvc/db"
	"github.com/printwatch/printwatch-services/internal/detectsvc/scorer"
	"github.com/printwatch/printwatch-services/internal/detectsvc/service"
	"github.com/printwatch/printwatch-services/internal/detectsvc/store"
	natscli "github.com/printwatch/printwatch-services/internal/nats"
)

const SERVICE_NAME = "detect"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	// pg connection
	dbpool, err := db.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool()
	log.Printf("pg connection established successfully")

	predictionStore := store.NewPredictionStore(dbpool)
	predictionService := service.NewPredictionService(predictionStore)

	printEventStore := store.NewPrintEventStore(dbpool)
	printEventService := service.NewPrintEventService(printEventStore)

	// connect to NATS
	n, err := natscli.Connect()
	if err != nil {
		log.Fatalf("unable to connect to NATS: %v", err)
	}
	defer n.Conn.Close()
	log.Infof("NATS connected at %s", n.Url)

	brk := broker.NewBroker(n.Conn, instanceId, scorer.New(), predictionService, printEventService)

	jobSub, err := brk.SubscribeFrameJobs()
	if err != nil {
		log.Fatalf("subscribe error: %v", err)
	}
	eventSub, err := brk.SubscribeAlertEvents()
	if err != nil {
		log.Fatalf("subscribe error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go brk.RunHeartbeat(ctx)

	log.Infof("%s worker %s consuming frame jobs", SERVICE_NAME, instanceId)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	cancel()
	jobSub.Unsubscribe()
	eventSub.Unsubscribe()
	log.Infof("%s worker %s stopped", SERVICE_NAME, instanceId)
}
