package clickhouse

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
)

const defaultPort = "9000/tcp"

var hostName = os.Getenv("OVERRIDE_HOSTNAME")

func init() {
	const defaultHostName = "localhost"

	if hostName == "" {
		hostName = defaultHostName
	}
}

// Container is a throwaway ClickHouse server for integration tests.
type Container struct {
	resource *dockertest.Resource
	addr     string
}

func NewContainer(connectFn func(connURL string) error) (*Container, error) {
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
			Repository: "clickhouse/clickhouse-server",
			Tag:        "24.3-alpine",
			Env: []string{
				"CLICKHOUSE_DB=test_db",
				"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT=1",
				"CLICKHOUSE_USER=su",
				"CLICKHOUSE_PASSWORD=su",
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
			config.Ulimits = []docker.ULimit{{Name: "nofile", Soft: 262144, Hard: 262144}}
		})
	if err != nil {
		return nil, fmt.Errorf("could not create a container: %w", err)
	}

	container := &Container{
		resource: resource,
		addr:     fmt.Sprintf("%s:%s", hostName, resource.GetPort(defaultPort)),
	}
	if err := pool.Retry(func() error {
		return connectFn(container.addr)
	}); err != nil {
		_ = resource.Close()
		return nil, fmt.Errorf("could not connect to clickhouse: %w", err)
	}

	return container, nil
}

func (c *Container) Addr() string {
	return c.addr
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
