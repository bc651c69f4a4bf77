package adminapi

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/arclabs/arcgate/pkg/httperr"
)

type statsResponse struct {
	Users         int64   `json:"users"`
	Admins        int64   `json:"admins"`
	Requests      int64   `json:"requests"`
	UptimeSecs    int64   `json:"uptime_secs"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
}

// handleStats reports user counts, the request counter, and a host
// CPU/memory snapshot for the admin dashboard.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.CountUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to count users")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	admins, err := s.store.CountAdmins(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to count admins")
		httperr.Write(w, "", httperr.ErrInternal)

		return
	}

	resp := statsResponse{
		Users:      users,
		Admins:     admins,
		Requests:   s.requests.Load(),
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
	}

	// Host metrics are best-effort; a failed probe leaves zeros.
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil &&
		len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemoryPercent = vm.UsedPercent
		resp.MemoryUsedMB = vm.Used / 1024 / 1024
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- External (API-key) endpoints ---

func (s *server) handleExternalStats(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "stats:read") {
		return
	}

	s.handleStats(w, r)
}

func (s *server) handleExternalUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "users:read") {
		return
	}

	s.handleListUsers(w, r)
}

func (s *server) handleExternalRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, "routes:read") {
		return
	}

	s.handleListRoutes(w, r)
}
