package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

const composeProjectLabel = "com.docker.compose.project"

// DockerRuntime talks to a single docker endpoint: the SDK client for
// container and image queries, the docker CLI for compose subcommands
// (compose has no stable API surface).
type DockerRuntime struct {
	log    *logrus.Entry
	client *client.Client
}

func NewDockerRuntime(log *logrus.Entry) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRuntime{log: log, client: cli}, nil
}

func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

func (d *DockerRuntime) ListProjects(ctx context.Context) ([]ComposeProject, error) {
	out, err := runOutput(ctx, "docker", "compose", "ls", "--all", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("list compose projects: %w", err)
	}

	var raw []struct {
		Name        string `json:"Name"`
		Status      string `json:"Status"`
		ConfigFiles string `json:"ConfigFiles"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse compose ls output: %w", err)
	}

	projects := make([]ComposeProject, 0, len(raw))
	for _, item := range raw {
		if item.Name == "" {
			continue
		}
		projects = append(projects, ComposeProject{
			Name:        item.Name,
			Status:      item.Status,
			ConfigFiles: splitConfigFiles(item.ConfigFiles),
		})
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

func (d *DockerRuntime) ListContainers(ctx context.Context, project string) ([]Container, error) {
	listed, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+project)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers for %s: %w", project, err)
	}

	containers := make([]Container, 0, len(listed))
	for _, ctr := range listed {
		name := ctr.ID
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		containers = append(containers, Container{
			ID:      ctr.ID,
			Name:    name,
			Project: ctr.Labels[composeProjectLabel],
			Service: ctr.Labels["com.docker.compose.service"],
			Image:   ctr.Image,
			State:   ctr.State,
			Status:  ctr.Status,
			Ports:   formatPorts(ctr.Ports),
			Labels:  ctr.Labels,
		})
	}
	sort.Slice(containers, func(i, j int) bool { return containers[i].Service < containers[j].Service })
	return containers, nil
}

func (d *DockerRuntime) InspectImage(ctx context.Context, ref string) (ImageInfo, error) {
	inspect, err := d.client.ImageInspect(ctx, ref)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("inspect image %s: %w", ref, err)
	}
	info := ImageInfo{}
	if len(inspect.RepoDigests) > 0 {
		info.Digest = inspect.RepoDigests[0]
	}
	if created, err := time.Parse(time.RFC3339Nano, inspect.Created); err == nil {
		info.Created = created
	}
	return info, nil
}

func (d *DockerRuntime) Stream(ctx context.Context, workingDir, file string, args []string, onLine func(string)) error {
	cmdArgs := []string{"compose"}
	if file != "" {
		cmdArgs = append(cmdArgs, "-f", file)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, "docker", cmdArgs...)
	cmd.Dir = workingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start docker compose %s: %w", strings.Join(args, " "), err)
	}

	var tail []string
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			tail = append(tail, trimmed)
			if len(tail) > 20 {
				tail = tail[1:]
			}
			if onLine != nil {
				onLine(trimmed)
			}
		}
		if err != nil {
			break
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("docker compose %s: %w: %s",
			strings.Join(args, " "), err, strings.Join(tail, "\n"))
	}
	return nil
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w (%s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return []byte(stdout.String()), nil
}

func splitConfigFiles(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	files := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files
}

func formatPorts(ports []container.Port) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		switch {
		case p.PublicPort != 0 && p.IP != "":
			out = append(out, fmt.Sprintf("%s:%d->%d/%s", p.IP, p.PublicPort, p.PrivatePort, p.Type))
		case p.PublicPort != 0:
			out = append(out, fmt.Sprintf("%d->%d/%s", p.PublicPort, p.PrivatePort, p.Type))
		default:
			out = append(out, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
		}
	}
	sort.Strings(out)
	return out
}
