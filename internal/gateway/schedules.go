package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basket/panelbridge/internal/audit"
	"github.com/basket/panelbridge/internal/cron"
	"github.com/basket/panelbridge/internal/persistence"
	"github.com/basket/panelbridge/internal/session"
)

type createScheduleRequest struct {
	CronExpr string `json:"cronExpr"`
	Message  string `json:"message"`
}

type updateScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request, claims session.Claims) {
	switch r.Method {
	case http.MethodGet:
		schedules, err := s.cfg.Store.ListSchedules(r.Context())
		if err != nil {
			s.logger.Error("list schedules failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if schedules == nil {
			schedules = []persistence.Schedule{}
		}
		writeJSON(w, http.StatusOK, schedules)

	case http.MethodPost:
		var req createScheduleRequest
		if err := readJSON(r, &req); err != nil || req.CronExpr == "" || req.Message == "" {
			writeError(w, http.StatusBadRequest, "cronExpr and message required")
			return
		}
		nextRun, err := cron.NextRunTime(req.CronExpr, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cron expression")
			return
		}

		sched, err := s.cfg.Store.InsertSchedule(r.Context(), req.CronExpr, req.Message, claims.Name, nextRun)
		if err != nil {
			s.logger.Error("insert schedule failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		audit.Record("admin.schedule.create", claims.Name, "ok", req.CronExpr)
		writeJSON(w, http.StatusOK, sched)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request, claims session.Claims) {
	idPart := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		err := s.cfg.Store.DeleteSchedule(r.Context(), id)
		if errors.Is(err, persistence.ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		if err != nil {
			s.logger.Error("delete schedule failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		audit.Record("admin.schedule.delete", claims.Name, "ok", idPart)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	case http.MethodPatch:
		var req updateScheduleRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.cfg.Store.SetScheduleEnabled(r.Context(), id, req.Enabled); err != nil {
			if errors.Is(err, persistence.ErrScheduleNotFound) {
				writeError(w, http.StatusNotFound, "schedule not found")
				return
			}
			s.logger.Error("update schedule failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if req.Enabled {
			// A re-enabled schedule may carry a stale next_run; rearm
			// it from now so it does not fire a backlog.
			sched, err := s.cfg.Store.ScheduleByID(r.Context(), id)
			if err == nil {
				if nextRun, err := cron.NextRunTime(sched.CronExpr, time.Now()); err == nil {
					_ = s.cfg.Store.SetScheduleNextRun(r.Context(), id, nextRun)
				}
			}
		}
		sched, err := s.cfg.Store.ScheduleByID(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, sched)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
