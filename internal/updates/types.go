// Package updates implements the update-detection and update-execution
// pipeline: cached registry digest checks per project and per container,
// and pull+recreate operations with streamed, throttled progress.
package updates

import "time"

// UpdatePolicyDisabled suppresses update reporting for matching services.
const UpdatePolicyDisabled = "disabled"

// ImageUpdateStatus is the digest comparison result for one service image.
type ImageUpdateStatus struct {
	ServiceName     string    `json:"serviceName"`
	Image           string    `json:"image"`
	LocalDigest     string    `json:"localDigest,omitempty"`
	RemoteDigest    string    `json:"remoteDigest,omitempty"`
	RemoteCreated   time.Time `json:"remoteCreated,omitzero"`
	UpdateAvailable bool      `json:"updateAvailable"`
	UpdatePolicy    string    `json:"updatePolicy,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// ProjectUpdateSummary is one project's cached check result.
type ProjectUpdateSummary struct {
	ProjectName     string              `json:"projectName"`
	ComposeFilePath string              `json:"composeFilePath,omitempty"`
	Services        []ImageUpdateStatus `json:"services"`
	HasUpdates      bool                `json:"hasUpdates"`
	CheckedAt       time.Time           `json:"checkedAt"`
}

// UpdateResult is the caller-visible outcome of an update operation. It is
// always a structured result, never a raw error dump.
type UpdateResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	OperationID string `json:"operationId,omitempty"`
}

// TriggerSource tells event consumers what started a check.
type TriggerSource string

const (
	TriggerPeriodic TriggerSource = "periodic"
	TriggerManual   TriggerSource = "manual"
)
