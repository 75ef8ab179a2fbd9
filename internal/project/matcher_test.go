package project

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/discovery"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/runtime"
	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/settings"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// scriptedRuntime returns canned projects and containers.
type scriptedRuntime struct {
	projects   []runtime.ComposeProject
	containers map[string][]runtime.Container
	listErr    error
}

func (s *scriptedRuntime) ListProjects(ctx context.Context) ([]runtime.ComposeProject, error) {
	return s.projects, s.listErr
}

func (s *scriptedRuntime) ListContainers(ctx context.Context, project string) ([]runtime.Container, error) {
	return s.containers[project], nil
}

func (s *scriptedRuntime) InspectImage(ctx context.Context, ref string) (runtime.ImageInfo, error) {
	return runtime.ImageInfo{}, fmt.Errorf("not scripted")
}

func (s *scriptedRuntime) Stream(ctx context.Context, workingDir, file string, args []string, onLine func(string)) error {
	return fmt.Errorf("not scripted")
}

func writeProjectFile(t *testing.T, root, dir, content string) string {
	t.Helper()
	path := filepath.Join(root, dir, "docker-compose.yml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestMatcher(t *testing.T, root string, rt runtime.Runtime) *Matcher {
	t.Helper()
	scanner := discovery.NewScanner(testLog(), settings.DiscoveryOptions{
		RootPath:      root,
		MaxDepth:      3,
		MaxFileSizeKB: 64,
	})
	return NewMatcher(testLog(), rt, scanner, discovery.NewPathMapper(root, ""))
}

func projectByName(t *testing.T, result Result, name string) Project {
	t.Helper()
	for _, p := range result.Projects {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("project %q not in result", name)
	return Project{}
}

func TestListMatchesRuntimeProjectByName(t *testing.T) {
	root := t.TempDir()
	path := writeProjectFile(t, root, "web", "services:\n  app:\n    image: nginx:1.25\n")

	rt := &scriptedRuntime{
		projects: []runtime.ComposeProject{
			{Name: "web", Status: "running(1)", ConfigFiles: []string{"/somewhere/else/docker-compose.yml"}},
		},
		containers: map[string][]runtime.Container{
			"web": {{ID: "c1", Service: "app", Image: "nginx:1.25", State: "running", Status: "Up 2 hours (healthy)"}},
		},
	}

	result, err := newTestMatcher(t, root, rt).List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, result.Projects, 1)

	p := result.Projects[0]
	assert.Equal(t, StateRunning, p.State)
	assert.True(t, p.HasComposeFile)
	assert.Equal(t, path, p.ComposeFilePath)
	require.Len(t, p.Services, 1)
	assert.Equal(t, "app", p.Services[0].Name)
	assert.Equal(t, "healthy", p.Services[0].Health)
	assert.True(t, p.AvailableActions["stop"])
}

func TestListMatchesRuntimeProjectByMappedPath(t *testing.T) {
	root := t.TempDir()
	path := writeProjectFile(t, root, "stack", "name: custom\nservices:\n  app:\n    image: nginx\n")

	rt := &scriptedRuntime{
		projects: []runtime.ComposeProject{
			// Runtime name differs from the file's project name; only the
			// reported path links them.
			{Name: "oldname", Status: "exited(1)", ConfigFiles: []string{path}},
		},
	}

	result, err := newTestMatcher(t, root, rt).List(context.Background(), nil)
	require.NoError(t, err)

	p := projectByName(t, result, "oldname")
	assert.True(t, p.HasComposeFile)
	assert.Equal(t, path, p.ComposeFilePath)
	// The file matched the runtime project, so no synthetic "custom" project.
	assert.Len(t, result.Projects, 1)
}

func TestListBasenameFallbackIsDeterministic(t *testing.T) {
	root := t.TempDir()
	// Two candidates share the file name and parent directory name; only
	// their explicit project names differ.
	first := writeProjectFile(t, filepath.Join(root, "a"), "web", "name: alpha\nservices:\n  x:\n    image: i\n")
	writeProjectFile(t, filepath.Join(root, "b"), "web", "name: beta\nservices:\n  x:\n    image: i\n")

	rt := &scriptedRuntime{
		projects: []runtime.ComposeProject{
			{Name: "legacy", Status: "exited(1)", ConfigFiles: []string{"/elsewhere/web/docker-compose.yml"}},
		},
	}

	m := newTestMatcher(t, root, rt)
	for i := 0; i < 5; i++ {
		result, err := m.List(context.Background(), nil)
		require.NoError(t, err)
		p := projectByName(t, result, "legacy")
		assert.Equal(t, first, p.ComposeFilePath)
	}
}

func TestListRuntimeProjectWithoutFileGetsWarning(t *testing.T) {
	root := t.TempDir()
	rt := &scriptedRuntime{
		projects: []runtime.ComposeProject{
			{Name: "orphan", Status: "running(1)", ConfigFiles: []string{"/gone/docker-compose.yml"}},
		},
	}

	result, err := newTestMatcher(t, root, rt).List(context.Background(), nil)
	require.NoError(t, err)

	p := projectByName(t, result, "orphan")
	assert.False(t, p.HasComposeFile)
	assert.NotEmpty(t, p.Warning)
	assert.False(t, p.AvailableActions["up"])
	assert.True(t, p.AvailableActions["down"])
}

func TestListAddsNotStartedProjects(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "idle", "services:\n  worker:\n    image: busybox\n")

	result, err := newTestMatcher(t, root, &scriptedRuntime{}).List(context.Background(), nil)
	require.NoError(t, err)

	p := projectByName(t, result, "idle")
	assert.Equal(t, StateNotStarted, p.State)
	assert.True(t, p.HasComposeFile)
	require.Len(t, p.Services, 1)
	assert.Equal(t, StateUnknown, p.Services[0].State)
	assert.Empty(t, p.Services[0].ID)
}

func TestListNotStartedFilter(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "visible", "services:\n  a:\n    image: x\n")
	writeProjectFile(t, root, "hidden", "services:\n  b:\n    image: y\n")

	result, err := newTestMatcher(t, root, &scriptedRuntime{}).
		List(context.Background(), func(name string) bool { return name == "visible" })
	require.NoError(t, err)

	require.Len(t, result.Projects, 1)
	assert.Equal(t, "visible", result.Projects[0].Name)
}

func TestListSurfacesDisabledFiles(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "off", "x-disabled: true\nservices:\n  a:\n    image: x\n")

	result, err := newTestMatcher(t, root, &scriptedRuntime{}).List(context.Background(), nil)
	require.NoError(t, err)

	p := projectByName(t, result, "off")
	assert.Equal(t, StateNotStarted, p.State)
	assert.NotEmpty(t, p.Warning)
}

func TestListSurfacesConflicts(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "dup")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte("services:\n  a:\n    image: x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compose.yaml"), []byte("services:\n  a:\n    image: x\n"), 0o644))

	result, err := newTestMatcher(t, root, &scriptedRuntime{}).List(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "dup", result.Conflicts[0].ProjectName)
	// The conflicted project is withheld until the conflict is fixed.
	assert.Empty(t, result.Projects)
}

func TestResolveComposeFilePrefersScannedSet(t *testing.T) {
	root := t.TempDir()
	path := writeProjectFile(t, root, "web", "services:\n  a:\n    image: x\n")

	m := newTestMatcher(t, root, &scriptedRuntime{})
	got, ok := m.ResolveComposeFile(context.Background(), "web")
	require.True(t, ok)
	assert.Equal(t, path, got)

	_, ok = m.ResolveComposeFile(context.Background(), "nope")
	assert.False(t, ok)
}
