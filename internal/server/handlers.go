package server

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"farewatch/internal/config"
	"farewatch/internal/scheduler"
	"farewatch/internal/storage"
)

// ConfigEcho is the watched route as reported by /status.
type ConfigEcho struct {
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	DepartDate    string          `json:"depart_date"`
	ReturnDate    string          `json:"return_date"`
	PriceLimit    decimal.Decimal `json:"price_limit"`
	Currency      string          `json:"currency"`
	NonStop       bool            `json:"non_stop"`
	Mode          string          `json:"mode"`
	CheckHours    float64         `json:"check_hours"`
	CheckInterval string          `json:"check_interval"`
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Config      ConfigEcho             `json:"config"`
	Current     *storage.CheckResult   `json:"current"`
	History     []storage.HistoryEntry `json:"history"`
	Checking    bool                   `json:"checking"`
	NextCheckAt *time.Time             `json:"next_check_at"`
	CheckCount  int64                  `json:"check_count"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	current, err := s.deps.Store.LoadStatus(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load status")
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	history, err := s.deps.Store.LoadHistory(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load history")
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	snap := s.deps.State.Snapshot()
	s.writeJSONResponse(w, http.StatusOK, StatusResponse{
		Config:      s.configEcho(),
		Current:     current,
		History:     storage.Tail(history, s.cfg.HTTP.StatusHistory),
		Checking:    snap.Checking,
		NextCheckAt: snap.NextCheckAt,
		CheckCount:  snap.CheckCount,
	})
}

func (s *Server) configEcho() ConfigEcho {
	route := s.cfg.Route
	return ConfigEcho{
		Origin:        route.Origin,
		Destination:   route.Destination,
		DepartDate:    route.DepartDate,
		ReturnDate:    route.ReturnDate,
		PriceLimit:    decimal.NewFromFloat(s.cfg.Alerting.PriceLimit),
		Currency:      route.Currency,
		NonStop:       route.NonStop,
		Mode:          s.deps.Scheduler.Mode(),
		CheckHours:    s.cfg.Scheduler.Interval.Hours(),
		CheckInterval: s.cfg.Scheduler.Interval.String(),
	}
}

// handleCheck triggers one check through the active scheduler strategy.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := s.deps.Scheduler.Trigger(ctx)

	if res.Status != scheduler.StatusAlreadyRunning {
		s.writeJSONResponse(w, http.StatusOK, res)
		return
	}

	if s.cfg.HTTP.BusyPolicy == config.BusyPolicyReject {
		w.Header().Set("Retry-After", "30")
		s.writeJSONResponse(w, http.StatusTooManyRequests, res)
		return
	}

	last, err := s.deps.Store.LoadStatus(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load last status for busy reply")
	}
	res.Result = last
	s.writeJSONResponse(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.deps.Store.LoadHistory(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load history")
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, history)
}
