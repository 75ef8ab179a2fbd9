// Package runtime is the container-runtime capability consumed by the
// pipeline: listing compose projects and their containers, inspecting local
// images, and streaming compose subcommands. The pipeline only depends on
// the Runtime interface; DockerRuntime is the default adapter.
package runtime

import (
	"context"
	"time"
)

// ComposeProject is a project as reported by the runtime's compose listing.
type ComposeProject struct {
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	ConfigFiles []string `json:"configFiles"`
}

// Container is one compose-managed container.
type Container struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Project string            `json:"project"`
	Service string            `json:"service"`
	Image   string            `json:"image"`
	State   string            `json:"state"`
	Status  string            `json:"status"`
	Ports   []string          `json:"ports"`
	Labels  map[string]string `json:"labels"`
}

// ImageInfo describes a locally stored image.
type ImageInfo struct {
	// Digest is the repo digest ("repo@sha256:…") the runtime stores for the
	// image, or empty when the image was built locally and never pushed.
	Digest  string
	Created time.Time
}

// Runtime is the query/command surface of the container runtime.
type Runtime interface {
	// ListProjects returns every compose project the runtime knows about,
	// including stopped ones.
	ListProjects(ctx context.Context) ([]ComposeProject, error)

	// ListContainers returns the containers labelled with the given compose
	// project name, including stopped ones.
	ListContainers(ctx context.Context, project string) ([]Container, error)

	// InspectImage resolves a locally stored image reference.
	InspectImage(ctx context.Context, ref string) (ImageInfo, error)

	// Stream runs a compose subcommand against workingDir/file, invoking
	// onLine for every line of combined stdout/stderr, and returns an error
	// on non-zero exit carrying the captured stderr tail.
	Stream(ctx context.Context, workingDir, file string, args []string, onLine func(string)) error
}
