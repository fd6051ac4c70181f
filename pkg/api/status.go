package api

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// serverVersion is set at build time via -ldflags; "dev" otherwise.
var serverVersion = "dev"

type serverStatusResponse struct {
	MacAppConnected bool   `json:"macAppConnected"`
	IsHQMode        bool   `json:"isHQMode"`
	Version         string `json:"version"`
}

// handleServerStatus is GET /api/server/status. macAppConnected reflects
// whether any companion has subscribed to control-socket git events;
// isHQMode reflects whether an HQ bearer token is configured.
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serverStatusResponse{
		MacAppConnected: s.controlSocket != nil && s.controlSocket.HasSubscribers(),
		IsHQMode:        s.isHQMode,
		Version:         serverVersion,
	})
}

// healthReport is a lightweight process/host vitals snapshot, consumed by
// operator tooling rather than any session client.
type healthReport struct {
	Uptime       uint64  `json:"uptimeSeconds"`
	MemUsedBytes uint64  `json:"memUsedBytes"`
	MemPercent   float64 `json:"memPercent"`
}

// handleHealth is GET /healthz, exempt from auth the same way /logs is:
// health checks must stay reachable without a session.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{}
	if uptime, err := host.Uptime(); err == nil {
		report.Uptime = uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		report.MemUsedBytes = vm.Used
		report.MemPercent = vm.UsedPercent
	}
	writeJSON(w, http.StatusOK, report)
}
