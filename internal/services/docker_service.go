package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/ezbridge/bridge/internal/errdefs"
)

// ContainerInfo is the subset of container metadata useful for picking an
// upstream target in the host form.
type ContainerInfo struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Image string          `json:"image"`
	State string          `json:"state"`
	Ports []ContainerPort `json:"ports"`
}

// ContainerPort is one published port mapping of a running container.
type ContainerPort struct {
	Private int    `json:"private"`
	Public  int    `json:"public"`
	Type    string `json:"type"`
}

// dockerLister is the slice of the Docker API the service needs, satisfied by
// *client.Client.
type dockerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// newDockerClient is replaced in tests.
var newDockerClient = func(host string) (dockerLister, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	return client.NewClientWithOpts(opts...)
}

// DockerService lists local containers so the operator can point a proxy host
// at a published container port without typing addresses by hand.
type DockerService struct{}

func NewDockerService() *DockerService {
	return &DockerService{}
}

// ListContainers returns running containers and their published ports. An
// empty host uses the environment's default Docker endpoint.
func (s *DockerService) ListContainers(ctx context.Context, host string) ([]ContainerInfo, error) {
	cli, err := newDockerClient(host)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to docker: %v", errdefs.ErrExternalService, err)
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: list containers: %v", errdefs.ErrExternalService, err)
	}

	out := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		info := ContainerInfo{
			ID:    c.ID,
			Image: c.Image,
			State: c.State,
		}
		if len(c.Names) > 0 {
			info.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			info.Ports = append(info.Ports, ContainerPort{
				Private: int(p.PrivatePort),
				Public:  int(p.PublicPort),
				Type:    p.Type,
			})
		}
		out = append(out, info)
	}
	return out, nil
}
