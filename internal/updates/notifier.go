package updates

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ProjectCheckEvent is published after a bulk project check completes.
type ProjectCheckEvent struct {
	Summaries           []ProjectUpdateSummary `json:"summaries"`
	TotalProjects       int                    `json:"totalProjects"`
	ProjectsWithUpdates int                    `json:"projectsWithUpdates"`
	CheckedAt           time.Time              `json:"checkedAt"`
	Trigger             TriggerSource          `json:"trigger"`
}

// ContainerCheckEvent is published after a single container check.
type ContainerCheckEvent struct {
	ContainerID string            `json:"containerId"`
	Result      ImageUpdateStatus `json:"result"`
	CheckedAt   time.Time         `json:"checkedAt"`
	Trigger     TriggerSource     `json:"trigger"`
}

// ProgressEvent is one throttled snapshot of a running update operation.
type ProgressEvent struct {
	OperationID    string            `json:"operationId"`
	ProjectName    string            `json:"projectName"`
	Phase          string            `json:"phase"` // "pull" or "recreate"
	OverallPercent int               `json:"overallPercent"`
	Services       []ServiceProgress `json:"services"`
	LatestLine     string            `json:"latestLine,omitempty"`
}

// Notifier is the push-transport collaborator. Every call is best-effort:
// implementations must not block the pipeline, and a delivery failure never
// aborts the operation that produced the event.
type Notifier interface {
	ProjectCheckCompleted(ProjectCheckEvent)
	ContainerCheckCompleted(ContainerCheckEvent)
	PullProgress(ProgressEvent)
}

// LogNotifier writes events to the log; the default when no real transport
// is attached.
type LogNotifier struct {
	Log *logrus.Entry
}

func (n LogNotifier) ProjectCheckCompleted(ev ProjectCheckEvent) {
	n.Log.WithFields(logrus.Fields{
		"projects":    ev.TotalProjects,
		"withUpdates": ev.ProjectsWithUpdates,
		"trigger":     ev.Trigger,
	}).Info("project update check completed")
}

func (n LogNotifier) ContainerCheckCompleted(ev ContainerCheckEvent) {
	n.Log.WithFields(logrus.Fields{
		"container":       ev.ContainerID,
		"updateAvailable": ev.Result.UpdateAvailable,
	}).Info("container update check completed")
}

func (n LogNotifier) PullProgress(ev ProgressEvent) {
	n.Log.WithFields(logrus.Fields{
		"project": ev.ProjectName,
		"phase":   ev.Phase,
		"overall": ev.OverallPercent,
	}).Debug("update progress")
}

// event is the union carried by ChannelNotifier.
type Event struct {
	ProjectCheck   *ProjectCheckEvent   `json:"projectCheck,omitempty"`
	ContainerCheck *ContainerCheckEvent `json:"containerCheck,omitempty"`
	Progress       *ProgressEvent       `json:"progress,omitempty"`
}

// ChannelNotifier bridges events onto a bounded channel consumed by the
// real push transport. Sends never block: when the consumer lags, events
// are dropped and counted rather than stalling a pull stream.
type ChannelNotifier struct {
	log     *logrus.Entry
	events  chan Event
	dropped atomic.Int64
}

func NewChannelNotifier(log *logrus.Entry, buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelNotifier{log: log, events: make(chan Event, buffer)}
}

// Events is the consumer side of the bridge.
func (n *ChannelNotifier) Events() <-chan Event { return n.events }

func (n *ChannelNotifier) ProjectCheckCompleted(ev ProjectCheckEvent) {
	n.send(Event{ProjectCheck: &ev})
}

func (n *ChannelNotifier) ContainerCheckCompleted(ev ContainerCheckEvent) {
	n.send(Event{ContainerCheck: &ev})
}

func (n *ChannelNotifier) PullProgress(ev ProgressEvent) {
	n.send(Event{Progress: &ev})
}

// Dropped reports how many events have been discarded so far.
func (n *ChannelNotifier) Dropped() int64 { return n.dropped.Load() }

func (n *ChannelNotifier) send(ev Event) {
	select {
	case n.events <- ev:
	default:
		if dropped := n.dropped.Add(1); dropped%100 == 1 {
			n.log.WithField("dropped", dropped).Warn("push transport lagging, dropping events")
		}
	}
}
