package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/JordanOlivet/docker-compose-manager-sub000/internal/settings"
)

// Directory names that never contain deployable compose files. Compared
// case-insensitively.
var defaultExcludedDirs = []string{
	".git", ".svn", ".hg",
	"node_modules", "vendor", "bower_components",
	"dist", "build", "target", "out", "bin", "obj",
	"__pycache__", ".venv", ".tox",
	".idea", ".vscode",
}

const disabledExtensionKey = "x-disabled"

// Scanner walks a root directory for compose files up to a configured depth.
type Scanner struct {
	log          *logrus.Entry
	root         string
	maxDepth     int
	maxFileSize  int64
	excludedDirs map[string]struct{}
}

func NewScanner(log *logrus.Entry, opts settings.DiscoveryOptions) *Scanner {
	excluded := make(map[string]struct{}, len(defaultExcludedDirs))
	for _, name := range defaultExcludedDirs {
		excluded[name] = struct{}{}
	}
	return &Scanner{
		log:          log,
		root:         opts.RootPath,
		maxDepth:     opts.MaxDepth,
		maxFileSize:  int64(opts.MaxFileSizeKB) * 1024,
		excludedDirs: excluded,
	}
}

// Root returns the configured scan root.
func (s *Scanner) Root() string { return s.root }

// Scan returns every well-formed compose file under the root, sorted by
// path. Unreadable directories, oversized files and malformed YAML are
// logged and skipped; they never fail the scan.
func (s *Scanner) Scan() ([]ComposeFile, error) {
	if s.root == "" {
		return nil, nil
	}
	var files []ComposeFile
	s.walk(s.root, 0, &files)
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
	return files, nil
}

func (s *Scanner) walk(dir string, depth int, out *[]ComposeFile) {
	if depth > s.maxDepth {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.WithError(err).WithField("dir", dir).Debug("skipping unreadable directory")
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if _, excluded := s.excludedDirs[strings.ToLower(name)]; excluded {
				continue
			}
			s.walk(filepath.Join(dir, name), depth+1, out)
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		if file, ok := s.parseCandidate(filepath.Join(dir, name)); ok {
			*out = append(*out, file)
		}
	}
}

func (s *Scanner) parseCandidate(path string) (ComposeFile, bool) {
	info, err := os.Stat(path)
	if err != nil {
		s.log.WithError(err).WithField("file", path).Debug("skipping unreadable file")
		return ComposeFile{}, false
	}
	if info.Size() > s.maxFileSize {
		s.log.WithFields(logrus.Fields{"file": path, "size": info.Size()}).
			Warn("skipping compose file candidate over size limit")
		return ComposeFile{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.log.WithError(err).WithField("file", path).Debug("skipping unreadable file")
		return ComposeFile{}, false
	}

	doc, ok := parseDocument(s.log, path, data)
	if !ok {
		return ComposeFile{}, false
	}

	services, ok := doc["services"].(map[string]any)
	if !ok || len(services) == 0 {
		// yaml file, but not a compose file
		return ComposeFile{}, false
	}

	serviceNames := make([]string, 0, len(services))
	for name := range services {
		serviceNames = append(serviceNames, name)
	}
	sort.Strings(serviceNames)

	return ComposeFile{
		FilePath:      path,
		ProjectName:   deriveProjectName(doc, path),
		DirectoryPath: filepath.Dir(path),
		LastModified:  info.ModTime(),
		IsValid:       true,
		IsDisabled:    extensionBool(doc, disabledExtensionKey),
		Services:      serviceNames,
	}, true
}

// parseDocument recovers from yaml panics (deeply nested or allocation-heavy
// documents) so one hostile file cannot take down a scan.
func parseDocument(log *logrus.Entry, path string, data []byte) (doc map[string]any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("file", path).WithField("panic", r).Warn("yaml parse panicked, skipping file")
			doc, ok = nil, false
		}
	}()
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.WithError(err).WithField("file", path).Debug("skipping malformed yaml")
		return nil, false
	}
	return doc, doc != nil
}

// deriveProjectName implements the compose naming convention: an explicit
// top-level name wins; a conventionally named file takes its directory name;
// any other file name is suffixed onto the directory so two non-standard
// files in one directory get distinct projects.
func deriveProjectName(doc map[string]any, path string) string {
	if name, _ := doc["name"].(string); name != "" {
		return name
	}
	dir := filepath.Base(filepath.Dir(path))
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(base) {
	case "docker-compose", "compose":
		return dir
	}
	if strings.EqualFold(base, dir) {
		return dir
	}
	return dir + "-" + base
}

func extensionBool(doc map[string]any, key string) bool {
	switch v := doc[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}
