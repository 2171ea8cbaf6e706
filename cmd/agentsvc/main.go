package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	configs "github.com/printwatch/printwatch-services/configs"
	"github.com/printwatch/printwatch-services/internal/agent/camserver"
	"github.com/printwatch/printwatch-services/internal/agent/cloud"
	agentconfig "github.com/printwatch/printwatch-services/internal/agent/config"
	"github.com/printwatch/printwatch-services/internal/agent/emitter"
	"github.com/printwatch/printwatch-services/internal/agent/hub"
	"github.com/printwatch/printwatch-services/internal/agent/printer"
	"github.com/printwatch/printwatch-services/internal/agent/webcam"
	"github.com/printwatch/printwatch-services/internal/detect"
)

const SERVICE_NAME = "agent"

var instanceId string

func init() {
	instanceId = "001"
	configs.Logging(SERVICE_NAME + "_service_" + instanceId)
	configs.LoadEnv(SERVICE_NAME)
}

func main() {
	settings, err := agentconfig.Load()
	if err != nil {
		log.Fatalf("invalid agent configuration: %v", err)
	}
	log.Infof("agent %s starting against gateway %s", settings.AgentId, settings.GatewayURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// resolve webcam urls against the printer host
	snapshotURL := settings.SnapshotURL
	if snapshotURL != "" {
		if snapshotURL, err = webcam.FullURL(settings.PrinterURL, snapshotURL); err != nil {
			log.Fatalf("bad snapshot url: %v", err)
		}
	}
	streamURL := settings.StreamURL
	if streamURL == "" && snapshotURL == "" {
		streamURL = "/webcam/?action=stream"
	}
	if streamURL != "" {
		if streamURL, err = webcam.FullURL(settings.PrinterURL, streamURL); err != nil {
			log.Fatalf("bad stream url: %v", err)
		}
	}

	frameHub := hub.New()
	frameHub.Start(ctx)
	defer frameHub.Stop()

	camSrv := camserver.New(frameHub, settings.CamServerPort)
	camSrv.Start()

	prt := printer.NewClient(settings.PrinterURL, settings.PrinterAPIKey)
	eval := detect.NewEvaluator(settings.WarningThreshold, settings.AlertThreshold, settings.AlertCooldown, settings.PauseOnAlert)
	emit := emitter.Connect(settings.NatsURL, settings.AgentId)
	defer emit.Close()

	link := cloud.NewLink(settings, prt, eval, emit)
	go link.Run(ctx)

	capturer := webcam.NewCapturer(snapshotURL, streamURL)
	uploader := cloud.NewUploader(settings, capturer, frameHub, link)
	go uploader.RunCapture(ctx)
	go uploader.RunUpload(ctx)

	log.Infof("%s service running, webcam server at port %d", SERVICE_NAME, settings.CamServerPort)

	// Wait for interrupt signal to gracefully shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := camSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("webcam server shutdown failed: %v", err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
