package discovery

import (
	"sort"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const conflictRemediation = "multiple active compose files declare the same project name; " +
	"mark the files you want to ignore with 'x-disabled: true' or give them distinct 'name' values"

// ResolveConflicts reduces a flat list of discovered files to at most one
// file per project name. The result is deterministic for a given input set:
// groups are ordered by name and ties are broken by file path.
func ResolveConflicts(log *logrus.Entry, files []ComposeFile) (map[string]ComposeFile, []Conflict) {
	groups := lo.GroupBy(files, func(f ComposeFile) string { return f.ProjectName })

	resolved := make(map[string]ComposeFile, len(groups))
	var conflicts []Conflict

	for name, group := range groups {
		// Disabled files never resolve, even when they are the only file for
		// the name; callers surface them separately.
		active := lo.Filter(group, func(f ComposeFile, _ int) bool { return !f.IsDisabled })
		sort.Slice(active, func(i, j int) bool { return active[i].FilePath < active[j].FilePath })

		switch len(active) {
		case 1:
			if len(group) > 1 {
				log.WithFields(logrus.Fields{
					"project": name,
					"file":    active[0].FilePath,
				}).Info("project has disabled compose files, using the remaining active one")
			}
			resolved[name] = active[0]
		case 0:
			log.WithField("project", name).
				Warn("all compose files for project are disabled, project unavailable")
		default:
			paths := lo.Map(active, func(f ComposeFile, _ int) string { return f.FilePath })
			log.WithFields(logrus.Fields{
				"project": name,
				"files":   paths,
			}).Warn("unresolved compose file conflict")
			conflicts = append(conflicts, Conflict{
				ProjectName: name,
				FilePaths:   paths,
				Remediation: conflictRemediation,
			})
		}
	}

	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].ProjectName < conflicts[j].ProjectName })
	return resolved, conflicts
}
