package api

import (
	"net/http"
	"time"

	"shopassist/internal/buildinfo"
)

// DebugJSON reports build info and the effective non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	wh := s.cfg.Webhooks
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"env":                  s.cfg.Env,
			"port":                 s.cfg.Server.Port,
			"rateRps":              s.cfg.RateLimit.RPS,
			"rateBurst":            s.cfg.RateLimit.Burst,
			"maxAttempts":          wh.MaxAttempts,
			"maxFailureCount":      wh.MaxFailureCount,
			"retryIntervals":       durations(wh.RetryIntervals),
			"requestTimeout":       wh.RequestTimeout.String(),
			"failureCounting":      wh.FailureCounting,
			"sweepInterval":        wh.SweepInterval.String(),
			"hasDatabaseUrl":       s.cfg.Database.URL != "",
			"hasRedisUrl":          s.cfg.Redis.URL != "",
			"liveFeed":             s.feed != nil,
			"responseExcerptLimit": wh.ResponseExcerptLimit,
		},
	}
	writeJSON(w, http.StatusOK, info)
}

func durations(ds []time.Duration) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}
