package camserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"

	config "github.com/printwatch/printwatch-services/configs"
	"github.com/printwatch/printwatch-services/internal/agent/hub"
)

const (
	mjpegBoundary = "printwatchframe"
	// slow down mjpeg streaming so it won't use too much cpu or bandwidth
	mjpegFrameDelay = 150 * time.Millisecond
	// a snapshot must come from a capture at most this old
	snapshotStaleness = 2 * time.Second
	snapshotTimeout   = 10 * time.Second
)

// Server re-serves the freshest webcam frames over HTTP the way the printer
// host's own webcam daemon would: GET /?action=snapshot for one JPEG,
// GET /?action=stream (default) for multipart MJPEG.
type Server struct {
	hub  *hub.Hub
	http *http.Server
}

func New(h *hub.Hub, port int) *Server {
	s := &Server{hub: h}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Get("/", s.handleWebcam)

	s.http = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     r,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Start runs the server in the background.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("webcam server: %v", err)
		}
	}()
	log.Infof("webcam server running at %s", s.http.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWebcam(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("action") == "snapshot" {
		s.serveSnapshot(w, r)
		return
	}
	s.serveMJPEG(w, r)
}

// serveSnapshot waits for a capture inside the staleness window; timelapse
// tooling depends on the snapshot being current, so a stale frame is never
// an acceptable answer.
func (s *Server) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	var afterSeq uint64
	for {
		f, ok := s.hub.Latest(ctx, afterSeq)
		if !ok {
			http.Error(w, "no fresh frame available", http.StatusServiceUnavailable)
			return
		}
		if time.Since(f.CapturedAt) < snapshotStaleness {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(f.Data)))
			w.Write(f.Data)
			return
		}
		afterSeq = f.Seq
	}
}

func (s *Server) serveMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+mjpegBoundary)
	w.WriteHeader(http.StatusOK)

	sub, cancel := s.hub.Subscribe("mjpeg-" + middleware.GetReqID(r.Context()))
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, open := <-sub:
			if !open {
				return
			}
			_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(f.Data))
			if err != nil {
				return
			}
			if _, err := w.Write(f.Data); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(mjpegFrameDelay)
		}
	}
}
