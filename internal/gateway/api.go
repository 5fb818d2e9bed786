// ABOUTME: HTTP side-channel handlers: liveness probe plus registration calls.
// ABOUTME: Provides GET /health, POST /api/instances, and POST /api/specialists.

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/crewline/crew-gateway/internal/specialist"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
	Pending     int    `json:"pending"`
}

// RegisterInstanceRequest is the JSON request body for POST /api/instances.
type RegisterInstanceRequest struct {
	InstanceID  string `json:"instanceId"`
	ProjectPath string `json:"projectPath,omitempty"`
}

// RegisterInstanceResponse is the JSON response for POST /api/instances.
type RegisterInstanceResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instanceId"`
}

// RegisterSpecialistResponse is the JSON response for POST /api/specialists.
type RegisterSpecialistResponse struct {
	Registered int `json:"registered"`
}

// handleHealth handles GET /health: active-connection and session counts.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: g.hub.Count(),
		Sessions:    g.sessions.Count(),
		Pending:     g.pending.Pending(),
	})
}

// handleInstances handles /api/instances: GET lists known sessions, POST
// registers an instance without a transport connection.
func (g *Gateway) handleInstances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListInstances(w, r)
	case http.MethodPost:
		g.handleRegisterInstance(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// InstanceSummary is one entry in the GET /api/instances response.
type InstanceSummary struct {
	InstanceID   string `json:"instanceId"`
	ProjectPath  string `json:"projectPath,omitempty"`
	MessageCount int    `json:"messageCount"`
	LastActivity string `json:"lastActivity"`
	Connected    bool   `json:"connected"`
}

// handleListInstances handles GET /api/instances.
func (g *Gateway) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	records := g.sessions.List()
	instances := make([]InstanceSummary, 0, len(records))
	for _, rec := range records {
		instances = append(instances, InstanceSummary{
			InstanceID:   rec.InstanceID,
			ProjectPath:  rec.ProjectPath,
			MessageCount: rec.MessageCount,
			LastActivity: rec.LastActivity.Format(time.RFC3339),
			Connected:    rec.DisconnectedAt == nil,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

// handleRegisterInstance handles POST /api/instances.
func (g *Gateway) handleRegisterInstance(w http.ResponseWriter, r *http.Request) {
	var req RegisterInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.InstanceID == "" {
		http.Error(w, "instanceId is required", http.StatusBadRequest)
		return
	}

	g.sessions.Register(req.InstanceID, req.ProjectPath)
	g.logger.Info("instance registered via API",
		"instance_id", req.InstanceID,
		"project_path", req.ProjectPath,
	)

	writeJSON(w, http.StatusOK, RegisterInstanceResponse{
		Status:     "registered",
		InstanceID: req.InstanceID,
	})
}

// handleRegisterSpecialist handles POST /api/specialists.
func (g *Gateway) handleRegisterSpecialist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var profile specialist.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if profile.AgentID == "" {
		http.Error(w, "agentId is required", http.StatusBadRequest)
		return
	}

	g.registry.Register(profile)

	writeJSON(w, http.StatusOK, RegisterSpecialistResponse{
		Registered: g.registry.Size(),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
