// Package project unifies the runtime's live view of compose projects with
// the compose files discovered on disk.
package project

import "strings"

// State is the rolled-up runtime state of a project.
type State string

const (
	StateNotStarted State = "not_started"
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StatePaused     State = "paused"
	StateStopped    State = "stopped"
	StateExited     State = "exited"
	StateDown       State = "down"
	StateDegraded   State = "degraded"
	StateUnknown    State = "unknown"
)

// Service is one declared workload of a project, backed by zero or more
// containers. Synthetic entries (from a compose file with no running
// containers) have an empty ID and StateUnknown.
type Service struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Image  string   `json:"image"`
	State  State    `json:"state"`
	Status string   `json:"status"`
	Ports  []string `json:"ports"`
	Health string   `json:"health"`
}

// Project is the unified view over one compose project.
type Project struct {
	Name             string          `json:"name"`
	Path             string          `json:"path"`
	State            State           `json:"state"`
	Services         []Service       `json:"services"`
	ComposeFiles     []string        `json:"composeFiles"`
	ComposeFilePath  string          `json:"composeFilePath,omitempty"`
	HasComposeFile   bool            `json:"hasComposeFile"`
	Warning          string          `json:"warning,omitempty"`
	AvailableActions map[string]bool `json:"availableActions"`
}

// ParseRuntimeStatus converts a runtime roll-up like "running(3)" or
// "running(2), exited(1)" into a State. Mixed roll-ups degrade.
func ParseRuntimeStatus(status string) State {
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		return StateUnknown
	}
	parts := strings.Split(status, ",")
	if len(parts) > 1 {
		return StateDegraded
	}
	head := strings.TrimSpace(parts[0])
	if idx := strings.Index(head, "("); idx > 0 {
		head = head[:idx]
	}
	switch head {
	case "running":
		return StateRunning
	case "created":
		return StateCreated
	case "restarting":
		return StateRestarting
	case "paused":
		return StatePaused
	case "exited":
		return StateExited
	case "dead", "stopped":
		return StateStopped
	case "down":
		return StateDown
	default:
		return StateUnknown
	}
}

// hasContainers reports whether a state implies the project has containers
// on the runtime. Not-started and down projects have none.
func hasContainers(state State) bool {
	switch state {
	case StateNotStarted, StateDown:
		return false
	default:
		return true
	}
}

// AvailableActions is a pure function of (hasComposeFile, state). The same
// inputs always yield the same map, independent of call order.
func AvailableActions(hasComposeFile bool, state State) map[string]bool {
	containers := hasContainers(state)
	return map[string]bool{
		"up":       hasComposeFile,
		"start":    containers && state != StateRunning,
		"stop":     state == StateRunning,
		"pause":    state == StateRunning,
		"unpause":  state == StatePaused,
		"down":     containers,
		"restart":  containers,
		"build":    hasComposeFile,
		"pull":     hasComposeFile,
		"recreate": hasComposeFile,
		"config":   hasComposeFile,
		"validate": hasComposeFile,
		"logs":     containers,
		"ps":       containers,
	}
}
