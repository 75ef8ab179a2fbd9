package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(name, path string, disabled bool) ComposeFile {
	return ComposeFile{ProjectName: name, FilePath: path, IsValid: true, IsDisabled: disabled}
}

func TestResolveConflictsSingleFilePerProject(t *testing.T) {
	resolved, conflicts := ResolveConflicts(testLog(), []ComposeFile{
		file("web", "/data/web/docker-compose.yml", false),
		file("db", "/data/db/compose.yaml", false),
	})
	assert.Empty(t, conflicts)
	require.Len(t, resolved, 2)
	assert.Equal(t, "/data/web/docker-compose.yml", resolved["web"].FilePath)
}

func TestResolveConflictsDisabledFileBreaksTie(t *testing.T) {
	resolved, conflicts := ResolveConflicts(testLog(), []ComposeFile{
		file("web", "/data/web/docker-compose.yml", true),
		file("web", "/data/web2/docker-compose.yml", false),
	})
	assert.Empty(t, conflicts)
	require.Contains(t, resolved, "web")
	assert.Equal(t, "/data/web2/docker-compose.yml", resolved["web"].FilePath)
}

func TestResolveConflictsSingleDisabledFileNotResolved(t *testing.T) {
	// A lone disabled file must not resolve; callers surface it with a
	// warning instead of treating the project as deployable.
	resolved, conflicts := ResolveConflicts(testLog(), []ComposeFile{
		file("web", "/data/web/docker-compose.yml", true),
	})
	assert.Empty(t, conflicts)
	assert.NotContains(t, resolved, "web")
}

func TestResolveConflictsAllDisabledMeansAbsent(t *testing.T) {
	resolved, conflicts := ResolveConflicts(testLog(), []ComposeFile{
		file("web", "/data/web/docker-compose.yml", true),
		file("web", "/data/web2/docker-compose.yml", true),
	})
	assert.Empty(t, conflicts)
	assert.NotContains(t, resolved, "web")
}

func TestResolveConflictsTwoActiveFilesConflict(t *testing.T) {
	// The classic collision: docker-compose.yml and compose.yaml in the
	// same directory both derive the directory's project name.
	resolved, conflicts := ResolveConflicts(testLog(), []ComposeFile{
		file("web", "/data/web/docker-compose.yml", false),
		file("web", "/data/web/compose.yaml", false),
	})
	assert.NotContains(t, resolved, "web")
	require.Len(t, conflicts, 1)
	assert.Equal(t, "web", conflicts[0].ProjectName)
	assert.Equal(t, []string{"/data/web/compose.yaml", "/data/web/docker-compose.yml"}, conflicts[0].FilePaths)
	assert.NotEmpty(t, conflicts[0].Remediation)
}

func TestResolveConflictsDeterministicOrder(t *testing.T) {
	input := []ComposeFile{
		file("b", "/data/b1/docker-compose.yml", false),
		file("b", "/data/b2/docker-compose.yml", false),
		file("a", "/data/a1/docker-compose.yml", false),
		file("a", "/data/a2/docker-compose.yml", false),
	}
	_, first := ResolveConflicts(testLog(), input)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ProjectName)
	assert.Equal(t, "b", first[1].ProjectName)

	for i := 0; i < 5; i++ {
		_, again := ResolveConflicts(testLog(), input)
		assert.Equal(t, first, again)
	}
}
