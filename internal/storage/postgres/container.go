package postgres

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
)

const defaultPort = "5432/tcp"

var hostName = os.Getenv("OVERRIDE_HOSTNAME")

func init() {
	const defaultHostName = "localhost"

	if hostName == "" {
		hostName = defaultHostName
	}
}

// Container is a throwaway Postgres for integration tests.
type Container struct {
	resource *dockertest.Resource
	dsn      string
}

func NewContainer(connectFn func(dsn string) error) (*Container, error) {
	hostPort, err := getFreePort()
	if err != nil {
		return nil, fmt.Errorf("could not get free hostPort: %w", err)
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("could not connect to docker: %w", err)
	}

	resource, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: "postgres",
			Tag:        "16-alpine",
			Env: []string{
				"POSTGRES_DB=test_db",
				"POSTGRES_USER=su",
				"POSTGRES_PASSWORD=su",
			},
			PortBindings: map[docker.Port][]docker.PortBinding{
				defaultPort: {{
					HostIP:   hostName,
					HostPort: strconv.Itoa(hostPort),
				}},
			},
		}, func(config *docker.HostConfig) {
			config.AutoRemove = true
			config.RestartPolicy = docker.RestartPolicy{
				Name: "no",
			}
		})
	if err != nil {
		return nil, fmt.Errorf("could not create a container: %w", err)
	}

	container := &Container{
		resource: resource,
		dsn:      fmt.Sprintf("postgres://su:su@%s:%s/test_db?sslmode=disable", hostName, resource.GetPort(defaultPort)),
	}
	if err := pool.Retry(func() error {
		return connectFn(container.dsn)
	}); err != nil {
		_ = resource.Close()
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}

	return container, nil
}

func (c *Container) DSN() string {
	return c.dsn
}

func (c *Container) Purge() error {
	return c.resource.Close()
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
