// Package registry resolves remote image digests for update detection:
// parsing image references, speaking the OCI distribution protocol with
// anonymous-then-bearer auth, and selecting the right architecture out of
// multi-arch manifest lists.
package registry

import "strings"

const (
	// DefaultRegistry is where bare image names resolve to.
	DefaultRegistry = "docker.io"
	// DefaultNamespace prefixes single-segment repositories on the default
	// registry ("nginx" is really "library/nginx").
	DefaultNamespace = "library"
	// DefaultTag applies when a reference pins neither tag nor digest.
	DefaultTag = "latest"
)

// Reference is a syntactically decomposed image string. Parsing never
// touches the network.
type Reference struct {
	Registry   string `json:"registry"`
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	Digest     string `json:"digest,omitempty"`
	FullName   string `json:"fullName"`
}

// ParseReference splits an image string into registry, repository, tag and
// digest. The first path segment is a registry only if it looks like a
// host (contains a dot or colon, or is "localhost"); a trailing colon
// segment is a tag only if it contains no slash, otherwise it is a
// registry port.
func ParseReference(image string) Reference {
	ref := Reference{FullName: image, Tag: DefaultTag}

	rest := image
	if at := strings.Index(rest, "@"); at >= 0 {
		ref.Digest = rest[at+1:]
		rest = rest[:at]
	}

	if colon := strings.LastIndex(rest, ":"); colon >= 0 && !strings.Contains(rest[colon+1:], "/") {
		if tag := rest[colon+1:]; tag != "" {
			ref.Tag = tag
		}
		rest = rest[:colon]
	}

	segments := strings.SplitN(rest, "/", 2)
	if len(segments) == 2 && isRegistryHost(segments[0]) {
		ref.Registry = segments[0]
		ref.Repository = segments[1]
	} else {
		ref.Registry = DefaultRegistry
		ref.Repository = rest
		if !strings.Contains(rest, "/") {
			ref.Repository = DefaultNamespace + "/" + rest
		}
	}
	return ref
}

func isRegistryHost(segment string) bool {
	return strings.Contains(segment, ".") ||
		strings.Contains(segment, ":") ||
		segment == "localhost"
}

// DigestsEqual compares two image digests case-insensitively. An update is
// available only when both digests are known and differ.
func DigestsEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
