package discovery

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/settings"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestScanner(root string, maxDepth, maxSizeKB int) *Scanner {
	return NewScanner(testLog(), settings.DiscoveryOptions{
		RootPath:      root,
		MaxDepth:      maxDepth,
		MaxFileSizeKB: maxSizeKB,
	})
}

func TestScanFindsComposeFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "web", "docker-compose.yml"), "services:\n  app:\n    image: nginx:1.25\n")
	writeFile(t, filepath.Join(root, "db", "compose.yaml"), "services:\n  postgres:\n    image: postgres:16\n")

	files, err := newTestScanner(root, 3, 1024).Scan()
	require.NoError(t, err)
	require.Len(t, files, 2)

	byName := map[string]ComposeFile{}
	for _, f := range files {
		byName[f.ProjectName] = f
	}
	assert.Equal(t, []string{"postgres"}, byName["db"].Services)
	assert.Equal(t, []string{"app"}, byName["web"].Services)
	assert.True(t, byName["web"].IsValid)
	assert.False(t, byName["web"].IsDisabled)
}

func TestScanRequiresServicesSection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ci.yml"), "stages:\n  - build\n")
	writeFile(t, filepath.Join(root, "empty.yaml"), "services: {}\n")
	writeFile(t, filepath.Join(root, "broken.yml"), "services: [unbalanced\n")

	files, err := newTestScanner(root, 3, 1024).Scan()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanHonorsDepthLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "docker-compose.yml"), "services:\n  x:\n    image: a\n")
	writeFile(t, filepath.Join(root, "a", "b", "c", "d", "docker-compose.yml"), "services:\n  y:\n    image: b\n")

	files, err := newTestScanner(root, 2, 1024).Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a", files[0].ProjectName)
}

func TestScanSkipsExcludedDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "docker-compose.yml"), "services:\n  x:\n    image: a\n")
	writeFile(t, filepath.Join(root, ".Git", "docker-compose.yml"), "services:\n  x:\n    image: a\n")
	writeFile(t, filepath.Join(root, "app", "docker-compose.yml"), "services:\n  x:\n    image: a\n")

	files, err := newTestScanner(root, 3, 1024).Scan()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "app", files[0].ProjectName)
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	padding := "# " + strings.Repeat("x", 2048) + "\n"
	writeFile(t, filepath.Join(root, "big", "docker-compose.yml"), "services:\n  x:\n    image: a\n"+padding)

	files, err := newTestScanner(root, 3, 1).Scan()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanMarksDisabledFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "off", "docker-compose.yml"), "x-disabled: true\nservices:\n  x:\n    image: a\n")
	writeFile(t, filepath.Join(root, "offstr", "docker-compose.yml"), "x-disabled: \"TRUE\"\nservices:\n  x:\n    image: a\n")
	writeFile(t, filepath.Join(root, "on", "docker-compose.yml"), "x-disabled: false\nservices:\n  x:\n    image: a\n")

	files, err := newTestScanner(root, 3, 1024).Scan()
	require.NoError(t, err)
	require.Len(t, files, 3)

	disabled := map[string]bool{}
	for _, f := range files {
		disabled[f.ProjectName] = f.IsDisabled
	}
	assert.True(t, disabled["off"])
	assert.True(t, disabled["offstr"])
	assert.False(t, disabled["on"])
}

func TestDeriveProjectName(t *testing.T) {
	cases := []struct {
		doc  map[string]any
		path string
		want string
	}{
		{map[string]any{"name": "explicit"}, "/data/web/docker-compose.yml", "explicit"},
		{map[string]any{}, "/data/web/docker-compose.yml", "web"},
		{map[string]any{}, "/data/web/compose.yaml", "web"},
		{map[string]any{}, "/data/web/Web.yml", "web"},
		{map[string]any{}, "/data/web/staging.yml", "web-staging"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, deriveProjectName(tc.doc, tc.path), tc.path)
	}
}

func TestDeriveProjectNameIsStable(t *testing.T) {
	doc := map[string]any{}
	first := deriveProjectName(doc, "/data/web/staging.yml")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, deriveProjectName(doc, "/data/web/staging.yml"))
	}
}
