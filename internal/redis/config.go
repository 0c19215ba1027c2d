package redis

import "fmt"

type RedisConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"required"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Database       int    `yaml:"database"`
	TLSEnabled     bool   `yaml:"tls_enabled"`
	ClusterEnabled bool   `yaml:"cluster_enabled"`

	// DevClusterHostOverride forces cluster node discovery to use Host
	// instead of the announced node IPs. Development only.
	DevClusterHostOverride bool `yaml:"dev_cluster_host_override"`
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
