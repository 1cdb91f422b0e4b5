package api

import (
	"net/http"
	"time"

	"towerplan/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":             c.Server.Port,
			"authMode":         c.Auth.Mode,
			"rateRps":          c.Server.RateRPS,
			"rateBurst":        c.Server.RateBurst,
			"maxRuns":          c.Server.MaxRuns,
			"solver":           c.Solver,
			"webhookEnabled":   c.Webhook.URL != "",
			"hasDatabaseUrl":   c.Storage.DatabaseURL != "",
			"hasRedisUrl":      c.Events.RedisURL != "",
			"webhookAttempts":  c.Webhook.MaxAttempts,
			"scoreboardConfig": c.Scoreboard.URL != "",
		},
	}
	writeJSON(w, http.StatusOK, info)
}
