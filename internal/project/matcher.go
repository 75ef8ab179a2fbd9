package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/discovery"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/runtime"
)

// Matcher produces the unified project list: runtime-reported projects
// joined with the compose files resolved from the scan.
type Matcher struct {
	log     *logrus.Entry
	runtime runtime.Runtime
	scanner *discovery.Scanner
	mapper  *discovery.PathMapper
}

// Result is one matcher pass: the unified projects plus the conflicts the
// resolver could not decide.
type Result struct {
	Projects  []Project
	Conflicts []discovery.Conflict
}

// Filter decides whether a synthetic not-started project is visible to the
// caller. Permission storage is external; the caller supplies the predicate.
type Filter func(projectName string) bool

func NewMatcher(log *logrus.Entry, rt runtime.Runtime, scanner *discovery.Scanner, mapper *discovery.PathMapper) *Matcher {
	return &Matcher{log: log, runtime: rt, scanner: scanner, mapper: mapper}
}

// List builds the unified project list. notStartedFilter may be nil, in
// which case every discovered-only project is included.
func (m *Matcher) List(ctx context.Context, notStartedFilter Filter) (Result, error) {
	runtimeProjects, err := m.runtime.ListProjects(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list runtime projects: %w", err)
	}

	files, err := m.scanner.Scan()
	if err != nil {
		return Result{}, fmt.Errorf("scan compose files: %w", err)
	}
	resolved, conflicts := discovery.ResolveConflicts(m.log, files)

	byName := make(map[string]discovery.ComposeFile, len(resolved))
	byPath := make(map[string]discovery.ComposeFile, len(resolved))
	for name, file := range resolved {
		byName[name] = file
		byPath[file.FilePath] = file
	}
	unmatched := make(map[string]discovery.ComposeFile, len(resolved))
	for name, file := range resolved {
		unmatched[name] = file
	}

	projects := make([]Project, 0, len(runtimeProjects)+len(resolved))
	for _, rp := range runtimeProjects {
		p, err := m.buildRuntimeProject(ctx, rp, byName, byPath, unmatched)
		if err != nil {
			return Result{}, err
		}
		projects = append(projects, p)
	}

	// Whatever is left on disk but not running becomes a synthetic
	// not-started project.
	for name, file := range unmatched {
		if notStartedFilter != nil && !notStartedFilter(name) {
			continue
		}
		projects = append(projects, m.buildNotStartedProject(name, file))
	}

	// Disabled files never reach the resolved set; surface them as warnings
	// instead of dropping them silently.
	for _, file := range files {
		if !file.IsDisabled {
			continue
		}
		if _, taken := resolved[file.ProjectName]; taken {
			continue
		}
		if lo.ContainsBy(projects, func(p Project) bool { return p.Name == file.ProjectName }) {
			continue
		}
		if notStartedFilter != nil && !notStartedFilter(file.ProjectName) {
			continue
		}
		p := m.buildNotStartedProject(file.ProjectName, file)
		p.Warning = "compose file is marked disabled"
		projects = append(projects, p)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return Result{Projects: projects, Conflicts: conflicts}, nil
}

// ResolveComposeFile finds the local compose file backing a named project,
// using the same preference order as List. Used by the update orchestrator
// to avoid carrying a whole matcher result around.
func (m *Matcher) ResolveComposeFile(ctx context.Context, projectName string) (string, bool) {
	files, err := m.scanner.Scan()
	if err != nil {
		return "", false
	}
	resolved, _ := discovery.ResolveConflicts(m.log, files)
	if file, ok := resolved[projectName]; ok {
		return file.FilePath, true
	}

	runtimeProjects, err := m.runtime.ListProjects(ctx)
	if err != nil {
		return "", false
	}
	for _, rp := range runtimeProjects {
		if rp.Name != projectName {
			continue
		}
		for _, reported := range rp.ConfigFiles {
			if local, ok := m.mapper.ToLocal(reported); ok {
				return local, true
			}
		}
	}
	return "", false
}

func (m *Matcher) buildRuntimeProject(
	ctx context.Context,
	rp runtime.ComposeProject,
	byName, byPath map[string]discovery.ComposeFile,
	unmatched map[string]discovery.ComposeFile,
) (Project, error) {
	p := Project{
		Name:         rp.Name,
		State:        ParseRuntimeStatus(rp.Status),
		ComposeFiles: rp.ConfigFiles,
	}

	containers, err := m.runtime.ListContainers(ctx, rp.Name)
	if err != nil {
		// A project we cannot enumerate is degraded information, not a
		// failure of the whole listing.
		m.log.WithError(err).WithField("project", rp.Name).Warn("could not list project containers")
	}
	p.Services = lo.Map(containers, func(c runtime.Container, _ int) Service {
		return Service{
			ID:     c.ID,
			Name:   c.Service,
			Image:  c.Image,
			State:  ParseRuntimeStatus(c.State),
			Status: c.Status,
			Ports:  c.Ports,
			Health: healthFromStatus(c.Status),
		}
	})

	if file, ok := m.matchFile(rp, byName, byPath); ok {
		p.HasComposeFile = true
		p.ComposeFilePath = file.FilePath
		p.Path = file.DirectoryPath
		if len(p.Services) == 0 {
			p.Services = syntheticServices(file)
		}
		delete(unmatched, file.ProjectName)
	} else if local, ok := m.firstReportedLocal(rp); ok {
		// Not part of the scanned set, but the reported path maps to a real
		// file; trust it.
		p.HasComposeFile = true
		p.ComposeFilePath = local
		p.Path = filepath.Dir(local)
	} else {
		p.Warning = "no compose file found for this project"
		if len(rp.ConfigFiles) > 0 {
			p.Path = filepath.Dir(rp.ConfigFiles[0])
		}
	}

	p.AvailableActions = AvailableActions(p.HasComposeFile, p.State)
	return p, nil
}

// matchFile tries, in order: exact project-name match, reported-path match
// via the path mapper, then file+parent-directory base-name match.
func (m *Matcher) matchFile(
	rp runtime.ComposeProject,
	byName, byPath map[string]discovery.ComposeFile,
) (discovery.ComposeFile, bool) {
	if file, ok := byName[rp.Name]; ok {
		return file, true
	}

	for _, reported := range rp.ConfigFiles {
		local, ok := m.mapper.ToLocal(reported)
		if !ok {
			continue
		}
		if file, ok := byPath[local]; ok {
			return file, true
		}
	}

	// Same file name inside a same-named directory: clearly the same file
	// even though neither project name nor full path line up. Paths are
	// walked in sorted order so ties always pick the same file.
	paths := lo.Keys(byPath)
	sort.Strings(paths)
	for _, reported := range rp.ConfigFiles {
		base := filepath.Base(normalizeSeparators(reported))
		parent := filepath.Base(filepath.Dir(normalizeSeparators(reported)))
		for _, path := range paths {
			file := byPath[path]
			if strings.EqualFold(filepath.Base(file.FilePath), base) &&
				strings.EqualFold(filepath.Base(file.DirectoryPath), parent) {
				return file, true
			}
		}
	}
	return discovery.ComposeFile{}, false
}

func (m *Matcher) firstReportedLocal(rp runtime.ComposeProject) (string, bool) {
	if len(rp.ConfigFiles) == 0 {
		return "", false
	}
	local, ok := m.mapper.ToLocal(rp.ConfigFiles[0])
	if !ok {
		return "", false
	}
	if _, err := os.Stat(local); err != nil {
		return "", false
	}
	return local, true
}

func (m *Matcher) buildNotStartedProject(name string, file discovery.ComposeFile) Project {
	return Project{
		Name:             name,
		Path:             file.DirectoryPath,
		State:            StateNotStarted,
		Services:         syntheticServices(file),
		ComposeFilePath:  file.FilePath,
		HasComposeFile:   true,
		AvailableActions: AvailableActions(true, StateNotStarted),
	}
}

// syntheticServices fabricates service records from a compose file's
// declared names. They carry no container identity and StateUnknown; a real
// runtime-provided service list is never overwritten by these.
func syntheticServices(file discovery.ComposeFile) []Service {
	return lo.Map(file.Services, func(name string, _ int) Service {
		return Service{Name: name, State: StateUnknown}
	})
}

func healthFromStatus(status string) string {
	lower := strings.ToLower(status)
	switch {
	case strings.Contains(lower, "(healthy)"):
		return "healthy"
	case strings.Contains(lower, "(unhealthy)"):
		return "unhealthy"
	case strings.Contains(lower, "(health: starting)"):
		return "starting"
	default:
		return ""
	}
}

func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
