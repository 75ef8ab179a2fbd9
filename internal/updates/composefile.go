package updates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"
)

const updatePolicyExtensionKey = "x-update-policy"

// serviceImage is what a check needs from a compose service: the concrete
// image and the effective update policy (per-service override falling back
// to the document root).
type serviceImage struct {
	Name   string
	Image  string
	Policy string
}

// loadServiceImages parses the project's compose file and returns its
// services with concrete images, sorted by name. Build-only services (no
// image) are excluded; there is nothing to pull for them.
func loadServiceImages(ctx context.Context, path, projectName string) ([]serviceImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	project, err := loader.LoadWithContext(ctx, compose.ConfigDetails{
		WorkingDir: filepath.Dir(path),
		ConfigFiles: []compose.ConfigFile{
			{Filename: path, Content: data},
		},
	}, func(o *loader.Options) {
		o.SkipValidation = true
		o.ResolvePaths = false
		o.SetProjectName(projectName, true)
	})
	if err != nil {
		return nil, fmt.Errorf("parse compose file %s: %w", path, err)
	}

	rootPolicy := extensionString(project.Extensions, updatePolicyExtensionKey)

	out := make([]serviceImage, 0, len(project.Services))
	for name, svc := range project.Services {
		if svc.Image == "" {
			continue
		}
		policy := extensionString(svc.Extensions, updatePolicyExtensionKey)
		if policy == "" {
			policy = rootPolicy
		}
		out = append(out, serviceImage{Name: name, Image: svc.Image, Policy: policy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func extensionString(ext map[string]any, key string) string {
	if v, ok := ext[key].(string); ok {
		return v
	}
	return ""
}
