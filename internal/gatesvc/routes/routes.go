package routes

import (
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"

	"github.com/printwatch/printwatch-services/internal/gatesvc/handlers"
)

var tokenAuth *jwtauth.JWTAuth

func SetRoutes(r *chi.Mux, h *handlers.Handler) {
	r.Route("/v1", func(r chi.Router) {
		// agent-facing routes, authenticated by the shared agent token
		r.Get("/agent/ws", h.HandleAgentWS)
		r.Post("/agent/pic", h.HandleFramePost)

		r.Get("/health", h.HealthHandler)

		// Secure operator routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/agents", h.ListAgents)
			r.Post("/agents/{id}/command", h.CommandAgent)
			r.Get("/agents/{id}/alert", h.AgentAlert)
			r.Get("/agents/{id}/frames", h.AgentFrames)
			r.Post("/agents/{id}/tunnel", h.TunnelAgent)
		})
	})
}

func InitAuth() {
	var jwtKey = os.Getenv("JWT_SECRET_KEY")
	tokenAuth = jwtauth.New("HS256", []byte(jwtKey), nil)

	expirationTime := time.Now().Add(7 * 24 * time.Hour).Unix()

	_, tokenString, _ := tokenAuth.Encode(map[string]interface{}{
		"service_id": 8003022,
		"exp":        expirationTime,
	})

	// For debugging only, comment it out in production
	log.Infof("DEBUG: JWT for testing expires soon : %s", tokenString)
}
