// Package handler implements HTTP request handlers for the admin dashboard
package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"incentive-hub/internal/adapters/websocket"
	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
	"incentive-hub/internal/core/services"
)

// DashboardHandler serves admin-only operations: system metrics, consultant
// workloads, conversation reassignment and force-disconnect.
type DashboardHandler struct {
	directory     ports.PrincipalDirectory
	conversations ports.ConversationRepository
	engine        *services.AssignmentEngine
	rooms         *services.RoomBroadcaster
	hub           *websocket.ChatHub
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(
	directory ports.PrincipalDirectory,
	conversations ports.ConversationRepository,
	engine *services.AssignmentEngine,
	rooms *services.RoomBroadcaster,
	hub *websocket.ChatHub,
) *DashboardHandler {
	return &DashboardHandler{
		directory:     directory,
		conversations: conversations,
		engine:        engine,
		rooms:         rooms,
		hub:           hub,
	}
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent      float64 `json:"cpu_percent"`
	RAMUsedGB       float64 `json:"ram_used_gb"`
	RAMTotalGB      float64 `json:"ram_total_gb"`
	RAMPercent      float64 `json:"ram_percent"`
	DiskUsedGB      float64 `json:"disk_used_gb"`
	DiskTotalGB     float64 `json:"disk_total_gb"`
	DiskPercent     float64 `json:"disk_percent"`
	GoroutinesCount int     `json:"goroutines_count"`
	Connections     int     `json:"connections"`
	ActiveRooms     int     `json:"active_rooms"`
}

// HandleSystemMetrics returns current system health metrics plus live
// connection and room counts
// GET /api/admin/system/metrics
func (h *DashboardHandler) HandleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 1 second)
	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	var cpuPercent float64
	if err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	var ramUsedGB, ramTotalGB, ramPercent float64
	if err == nil {
		ramUsedGB = float64(memStat.Used) / 1024 / 1024 / 1024
		ramTotalGB = float64(memStat.Total) / 1024 / 1024 / 1024
		ramPercent = memStat.UsedPercent
	}

	diskStat, err := disk.UsageWithContext(ctx, ".")
	var diskUsedGB, diskTotalGB, diskPercent float64
	if err == nil {
		diskUsedGB = float64(diskStat.Used) / 1024 / 1024 / 1024
		diskTotalGB = float64(diskStat.Total) / 1024 / 1024 / 1024
		diskPercent = diskStat.UsedPercent
	}

	WriteSuccess(w, SystemMetricsResponse{
		CPUPercent:      roundTo2Decimals(cpuPercent),
		RAMUsedGB:       roundTo2Decimals(ramUsedGB),
		RAMTotalGB:      roundTo2Decimals(ramTotalGB),
		RAMPercent:      roundTo2Decimals(ramPercent),
		DiskUsedGB:      roundTo2Decimals(diskUsedGB),
		DiskTotalGB:     roundTo2Decimals(diskTotalGB),
		DiskPercent:     roundTo2Decimals(diskPercent),
		GoroutinesCount: runtime.NumGoroutine(),
		Connections:     h.hub.ClientCount(),
		ActiveRooms:     h.rooms.RoomCount(),
	})
}

// ============================================================================
// Consultant Workloads
// ============================================================================

// ConsultantWorkload is one row of the workload overview
type ConsultantWorkload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	SectorID    *int64 `json:"sectorId,omitempty"`
	ActiveChats int    `json:"activeChats"`
}

// HandleConsultantWorkloads lists every active consultant with their active
// conversation count, least loaded first
// GET /api/admin/consultants/workloads
func (h *DashboardHandler) HandleConsultantWorkloads(w http.ResponseWriter, r *http.Request) {
	consultants, err := h.directory.ListActiveConsultants(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	workloads := make([]ConsultantWorkload, 0, len(consultants))
	for _, c := range consultants {
		count, err := h.conversations.CountActiveFor(r.Context(), c.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		workloads = append(workloads, ConsultantWorkload{
			ID:          c.ID,
			Name:        c.FullName,
			Email:       c.Email,
			SectorID:    c.SectorID,
			ActiveChats: count,
		})
	}
	sort.SliceStable(workloads, func(i, j int) bool {
		return workloads[i].ActiveChats < workloads[j].ActiveChats
	})

	WriteSuccess(w, workloads)
}

// ============================================================================
// Reassignment & Force Disconnect
// ============================================================================

// HandleReassign re-runs the assignment engine for a conversation. Exposed
// for when the assigned consultant was deactivated; reassignment never
// happens automatically.
// POST /api/admin/chats/{chatId}/reassign
func (h *DashboardHandler) HandleReassign(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")

	decision, err := h.engine.Reassign(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNoConsultantAvailable) {
			slog.Warn("Reassignment found no consultant", "conversation_id", chatID)
		}
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, decision)
}

// HandleDisconnectUser force-closes every live connection of a principal.
// Used after deactivating an account.
// POST /api/admin/users/{userId}/disconnect
func (h *DashboardHandler) HandleDisconnectUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	closed := h.hub.DisconnectPrincipal(userID, "account deactivated")
	WriteSuccess(w, map[string]int{"closedConnections": closed})
}

// HandleRoomMembers lists the principals currently present in a room
// GET /api/admin/chats/{chatId}/online
func (h *DashboardHandler) HandleRoomMembers(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	WriteSuccess(w, h.rooms.Members(chatID))
}

func roundTo2Decimals(v float64) float64 {
	return math.Round(v*100) / 100
}
