// Package discovery finds compose files on disk, resolves project-name
// conflicts between them and translates runtime-reported paths into paths
// this process can open.
package discovery

import "time"

// ComposeFile is one well-formed compose file found by a scan pass.
// Instances are immutable once returned; the next scan supersedes them.
type ComposeFile struct {
	FilePath      string    `json:"filePath"`
	ProjectName   string    `json:"projectName"`
	DirectoryPath string    `json:"directoryPath"`
	LastModified  time.Time `json:"lastModified"`
	IsValid       bool      `json:"isValid"`
	IsDisabled    bool      `json:"isDisabled"`
	Services      []string  `json:"services"`
}

// Conflict reports two or more active compose files claiming the same
// project name. It is data, not an error: the affected project is simply
// absent from the resolved set until the user fixes it.
type Conflict struct {
	ProjectName string   `json:"projectName"`
	FilePaths   []string `json:"filePaths"`
	Remediation string   `json:"remediation"`
}
