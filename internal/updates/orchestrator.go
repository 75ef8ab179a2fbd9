package updates

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boz/go-throttle"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/project"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/registry"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/runtime"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/settings"
)

// progressInterval caps progress broadcasts at roughly ten per second;
// state changes bypass the throttle.
const progressInterval = 100 * time.Millisecond

// Orchestrator runs update checks and update operations for compose
// projects.
type Orchestrator struct {
	log      *logrus.Entry
	rt       runtime.Runtime
	matcher  *project.Matcher
	registry *registry.Factory
	notifier Notifier
	opts     settings.UpdateCheckOptions

	projectCache   *Cache[ProjectUpdateSummary]
	containerCache *Cache[ImageUpdateStatus]

	// checkLocks serializes concurrent checks per project key; callers past
	// the cache fast path block here instead of racing duplicate scans.
	checkMu    sync.Mutex
	checkLocks map[string]*sync.Mutex

	guard updateGuard
}

func NewOrchestrator(
	log *logrus.Entry,
	rt runtime.Runtime,
	matcher *project.Matcher,
	factory *registry.Factory,
	notifier Notifier,
	opts settings.UpdateCheckOptions,
) *Orchestrator {
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	// A non-positive bound would make every semaphore Acquire block forever.
	if opts.MaxConcurrentChecks <= 0 {
		opts.MaxConcurrentChecks = 1
	}
	return &Orchestrator{
		log:            log,
		rt:             rt,
		matcher:        matcher,
		registry:       factory,
		notifier:       notifier,
		opts:           opts,
		projectCache:   NewCache[ProjectUpdateSummary](opts.CacheDuration),
		containerCache: NewCache[ImageUpdateStatus](opts.CacheDuration),
		checkLocks:     make(map[string]*sync.Mutex),
	}
}

// updateGuard is the update-in-progress flag: explicit state behind one
// mutex with check-and-set semantics. A second trigger while an update
// runs is rejected, not queued.
type updateGuard struct {
	mu          sync.Mutex
	busy        bool
	operationID string
	projectName string
}

func (g *updateGuard) tryBegin(projectName string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return "", false
	}
	g.busy = true
	g.operationID = uuid.NewString()
	g.projectName = projectName
	return g.operationID, true
}

func (g *updateGuard) end() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy = false
	g.operationID = ""
	g.projectName = ""
}

// CheckProjectUpdates resolves the project's compose file, compares each
// service image's local digest against its registry, and caches the
// result. knownPath skips file re-resolution during bulk checks; pass ""
// to resolve through the matcher. Registry failures surface as per-service
// unknowns, never as an error from this method.
func (o *Orchestrator) CheckProjectUpdates(ctx context.Context, projectName, knownPath string) (ProjectUpdateSummary, error) {
	// Fast path, no lock.
	if summary, ok := o.projectCache.Get(projectName); ok {
		return summary, nil
	}

	lock := o.checkLock(projectName)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock: a concurrent caller may have finished the
	// scan while we waited.
	if summary, ok := o.projectCache.Get(projectName); ok {
		return summary, nil
	}

	summary := ProjectUpdateSummary{ProjectName: projectName, CheckedAt: time.Now()}

	composePath := knownPath
	if composePath == "" {
		resolved, ok := o.matcher.ResolveComposeFile(ctx, projectName)
		if !ok {
			o.log.WithField("project", projectName).Debug("no compose file found, skipping update check")
			o.projectCache.Set(projectName, summary)
			return summary, nil
		}
		composePath = resolved
	}
	summary.ComposeFilePath = composePath

	services, err := loadServiceImages(ctx, composePath, projectName)
	if err != nil {
		o.log.WithError(err).WithField("project", projectName).Warn("could not parse compose file for update check")
		o.projectCache.Set(projectName, summary)
		return summary, nil
	}

	summary.Services = o.checkServiceImages(ctx, services)
	summary.HasUpdates = hasReportableUpdates(summary.Services)
	o.projectCache.Set(projectName, summary)
	return summary, nil
}

// checkServiceImages runs the per-image digest checks under a bounded
// concurrency semaphore so one project cannot hammer a registry.
func (o *Orchestrator) checkServiceImages(ctx context.Context, services []serviceImage) []ImageUpdateStatus {
	sem := semaphore.NewWeighted(int64(o.opts.MaxConcurrentChecks))
	results := make([]ImageUpdateStatus, len(services))

	var wg sync.WaitGroup
	for i, svc := range services {
		if o.imageExcluded(svc.Image) {
			results[i] = ImageUpdateStatus{
				ServiceName:  svc.Name,
				Image:        svc.Image,
				UpdatePolicy: svc.Policy,
			}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = ImageUpdateStatus{ServiceName: svc.Name, Image: svc.Image, UpdatePolicy: svc.Policy, Error: err.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, svc serviceImage) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.checkImage(ctx, svc)
		}(i, svc)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ServiceName < results[j].ServiceName })
	return results
}

// checkImage compares one image's local and remote digests. Every failure
// is folded into the status (unknown digests), never propagated.
func (o *Orchestrator) checkImage(ctx context.Context, svc serviceImage) ImageUpdateStatus {
	status := ImageUpdateStatus{
		ServiceName:  svc.Name,
		Image:        svc.Image,
		UpdatePolicy: svc.Policy,
	}

	ref := registry.ParseReference(svc.Image)
	if ref.Digest != "" {
		// Pinned by digest: the tag cannot drift, nothing to compare.
		status.LocalDigest = ref.Digest
		return status
	}

	if info, err := o.rt.InspectImage(ctx, svc.Image); err == nil {
		status.LocalDigest = digestPart(info.Digest)
	} else {
		o.log.WithError(err).WithField("image", svc.Image).Debug("local image not inspectable")
	}

	client := o.registry.ClientFor(ref.Registry)
	remote, err := client.Resolve(ctx, ref, o.opts.Architecture)
	if err != nil {
		o.log.WithError(err).WithField("image", svc.Image).Debug("remote digest unavailable")
		status.Error = err.Error()
		return status
	}
	status.RemoteDigest = remote.Digest
	status.RemoteCreated = remote.Created

	status.UpdateAvailable = status.LocalDigest != "" && status.RemoteDigest != "" &&
		!registry.DigestsEqual(status.LocalDigest, status.RemoteDigest)
	return status
}

// CheckAllProjects checks every project that has a compose file and
// publishes the completion event. Individual project failures are
// isolated; they surface inside their summaries.
func (o *Orchestrator) CheckAllProjects(ctx context.Context, trigger TriggerSource) ([]ProjectUpdateSummary, error) {
	result, err := o.matcher.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	summaries := make([]ProjectUpdateSummary, 0, len(result.Projects))
	withUpdates := 0
	for _, p := range result.Projects {
		if !p.HasComposeFile {
			continue
		}
		summary, err := o.CheckProjectUpdates(ctx, p.Name, p.ComposeFilePath)
		if err != nil {
			o.log.WithError(err).WithField("project", p.Name).Warn("project update check failed")
			continue
		}
		if summary.HasUpdates {
			withUpdates++
		}
		summaries = append(summaries, summary)
	}

	o.notifier.ProjectCheckCompleted(ProjectCheckEvent{
		Summaries:           summaries,
		TotalProjects:       len(summaries),
		ProjectsWithUpdates: withUpdates,
		CheckedAt:           time.Now(),
		Trigger:             trigger,
	})
	return summaries, nil
}

// CheckContainerImage checks a single container's image, cached by
// container id.
func (o *Orchestrator) CheckContainerImage(ctx context.Context, containerID, image string, trigger TriggerSource) ImageUpdateStatus {
	if status, ok := o.containerCache.Get(containerID); ok {
		return status
	}
	status := o.checkImage(ctx, serviceImage{Name: containerID, Image: image})
	o.containerCache.Set(containerID, status)
	o.notifier.ContainerCheckCompleted(ContainerCheckEvent{
		ContainerID: containerID,
		Result:      status,
		CheckedAt:   time.Now(),
		Trigger:     trigger,
	})
	return status
}

// CachedSummaries returns the live cached project summaries.
func (o *Orchestrator) CachedSummaries() []ProjectUpdateSummary {
	summaries := o.projectCache.Values()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ProjectName < summaries[j].ProjectName })
	return summaries
}

// InvalidateAll drops every cached check result.
func (o *Orchestrator) InvalidateAll() {
	o.projectCache.InvalidateAll()
	o.containerCache.InvalidateAll()
}

// UpdateProject pulls fresh images for the project's outdated services and
// recreates their containers, streaming throttled progress events. A
// second call while any update runs is rejected outright.
func (o *Orchestrator) UpdateProject(ctx context.Context, projectName string, serviceNames []string) UpdateResult {
	operationID, ok := o.guard.tryBegin(projectName)
	if !ok {
		return UpdateResult{Success: false, Message: "an update is already in progress"}
	}
	defer o.guard.end()

	composePath, ok := o.resolveForUpdate(ctx, projectName)
	if !ok {
		return UpdateResult{Success: false, Message: fmt.Sprintf("no compose file found for project %q", projectName), OperationID: operationID}
	}

	if len(serviceNames) == 0 {
		summary, err := o.CheckProjectUpdates(ctx, projectName, composePath)
		if err != nil {
			return UpdateResult{Success: false, Message: err.Error(), OperationID: operationID}
		}
		for _, svc := range summary.Services {
			if svc.UpdateAvailable && !strings.EqualFold(svc.UpdatePolicy, UpdatePolicyDisabled) {
				serviceNames = append(serviceNames, svc.ServiceName)
			}
		}
	}
	if len(serviceNames) == 0 {
		return UpdateResult{Success: true, Message: "all services are up to date", OperationID: operationID}
	}
	sort.Strings(serviceNames)

	parser := NewProgressParser(serviceNames)
	workingDir := filepath.Dir(composePath)
	fileName := filepath.Base(composePath)

	phase := "pull"
	latestLine := ""
	var emitMu sync.Mutex
	emit := func() {
		emitMu.Lock()
		defer emitMu.Unlock()
		overall := parser.Overall() / 2
		if phase == "recreate" {
			overall = 50 + parser.Overall()/2
		}
		o.notifier.PullProgress(ProgressEvent{
			OperationID:    operationID,
			ProjectName:    projectName,
			Phase:          phase,
			OverallPercent: overall,
			Services:       parser.Snapshot(),
			LatestLine:     latestLine,
		})
	}
	throttled := throttle.ThrottleFunc(progressInterval, true, emit)
	defer throttled.Stop()

	o.log.WithFields(logrus.Fields{
		"project":   projectName,
		"services":  serviceNames,
		"operation": operationID,
	}).Info("starting project update")

	pullArgs := append([]string{"pull"}, serviceNames...)
	if err := o.rt.Stream(ctx, workingDir, fileName, pullArgs, func(line string) {
		emitMu.Lock()
		latestLine = line
		changed := parser.ParseLine(line)
		emitMu.Unlock()
		if changed {
			emit()
		} else {
			throttled.Trigger()
		}
	}); err != nil {
		emitMu.Lock()
		parser.MarkPendingErrored(err.Error())
		emitMu.Unlock()
		emit()
		o.log.WithError(err).WithField("project", projectName).Error("pull failed")
		return UpdateResult{Success: false, Message: fmt.Sprintf("pull failed: %v", err), OperationID: operationID}
	}

	emitMu.Lock()
	parser.MarkAll(StatusPulled, 100)
	emitMu.Unlock()
	emit()

	// Recreate phase: logs pass through verbatim, no per-line parsing.
	emitMu.Lock()
	phase = "recreate"
	parser.MarkAll(StatusRecreating, 0)
	emitMu.Unlock()
	emit()

	upArgs := append([]string{"up", "-d", "--force-recreate"}, serviceNames...)
	if err := o.rt.Stream(ctx, workingDir, fileName, upArgs, func(line string) {
		emitMu.Lock()
		latestLine = line
		emitMu.Unlock()
		throttled.Trigger()
	}); err != nil {
		emitMu.Lock()
		parser.MarkAllErrored(err.Error())
		emitMu.Unlock()
		emit()
		o.log.WithError(err).WithField("project", projectName).Error("recreate failed")
		return UpdateResult{Success: false, Message: fmt.Sprintf("recreate failed: %v", err), OperationID: operationID}
	}

	emitMu.Lock()
	parser.MarkAll(StatusCompleted, 100)
	emitMu.Unlock()
	emit()
	o.projectCache.Remove(projectName)

	o.log.WithFields(logrus.Fields{"project": projectName, "operation": operationID}).Info("project update completed")
	return UpdateResult{Success: true, Message: "update completed", OperationID: operationID}
}

// UpdateAll processes every cached summary with outdated services
// sequentially, isolating failures so one broken project does not abort
// the rest.
func (o *Orchestrator) UpdateAll(ctx context.Context) []UpdateResult {
	var results []UpdateResult
	for _, summary := range o.CachedSummaries() {
		if !summary.HasUpdates {
			continue
		}
		result := o.UpdateProject(ctx, summary.ProjectName, nil)
		if !result.Success {
			o.log.WithField("project", summary.ProjectName).WithField("message", result.Message).
				Warn("update failed, continuing with remaining projects")
		}
		results = append(results, result)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// RunPeriodicChecks drives the background check loop until the context is
// canceled. The interval is re-read from the store every cycle so a
// settings change takes effect without a restart.
func (o *Orchestrator) RunPeriodicChecks(ctx context.Context, store settings.Store) {
	for {
		current, err := store.Reload()
		if err != nil {
			o.log.WithError(err).Warn("could not reload settings, keeping previous interval")
			current = store.Current()
		}
		if !current.AutoCheck.Enabled {
			o.log.Debug("periodic update checks disabled")
			return
		}
		interval := current.AutoCheck.Interval
		if interval < time.Minute {
			interval = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		start := time.Now()
		if _, err := o.CheckAllProjects(ctx, TriggerPeriodic); err != nil {
			o.log.WithError(err).Warn("periodic update check failed")
			continue
		}
		o.log.WithField("elapsed", time.Since(start).Round(time.Second)).Info("periodic update check cycle completed")
	}
}

func (o *Orchestrator) resolveForUpdate(ctx context.Context, projectName string) (string, bool) {
	if summary, ok := o.projectCache.Get(projectName); ok && summary.ComposeFilePath != "" {
		return summary.ComposeFilePath, true
	}
	return o.matcher.ResolveComposeFile(ctx, projectName)
}

func (o *Orchestrator) checkLock(key string) *sync.Mutex {
	o.checkMu.Lock()
	defer o.checkMu.Unlock()
	lock, ok := o.checkLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.checkLocks[key] = lock
	}
	return lock
}

func (o *Orchestrator) imageExcluded(image string) bool {
	ref := registry.ParseReference(image)
	for _, pattern := range o.opts.ExcludedImages {
		if matched, _ := path.Match(pattern, image); matched {
			return true
		}
		if matched, _ := path.Match(pattern, ref.Registry+"/"+ref.Repository); matched {
			return true
		}
	}
	return false
}

func hasReportableUpdates(services []ImageUpdateStatus) bool {
	for _, svc := range services {
		if svc.UpdateAvailable && !strings.EqualFold(svc.UpdatePolicy, UpdatePolicyDisabled) {
			return true
		}
	}
	return false
}

func digestPart(repoDigest string) string {
	if at := strings.Index(repoDigest, "@"); at >= 0 {
		return repoDigest[at+1:]
	}
	return repoDigest
}
