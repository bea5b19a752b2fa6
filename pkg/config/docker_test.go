package config

import (
	"strings"
	"testing"
)

func TestResolveDockerHost_RemoteHostsUnchanged(t *testing.T) {
	// Remote hosts are never rewritten regardless of Docker status.
	hosts := []string{"db.example.com", "192.168.1.100", "host.docker.internal"}

	for _, host := range hosts {
		if got := resolveDockerHost(host); got != host {
			t.Errorf("resolveDockerHost(%q) = %q, want %q", host, got, host)
		}
	}
}

func TestResolveDockerHost_LocalhostVariants(t *testing.T) {
	// The replacement only happens when IsRunningInDocker() reports true,
	// which depends on the test environment.
	for _, host := range []string{"localhost", "127.0.0.1"} {
		got := resolveDockerHost(host)
		if IsRunningInDocker() {
			if got != "host.docker.internal" {
				t.Errorf("resolveDockerHost(%q) in Docker = %q, want host.docker.internal", host, got)
			}
		} else if got != host {
			t.Errorf("resolveDockerHost(%q) outside Docker = %q, want %q", host, got, host)
		}
	}
}

func TestConnectionStringIncludesSSLMode(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5432,
		User:     "lumina",
		Password: "secret",
		Database: "lumina_engine",
		SSLMode:  "require",
	}

	dsn := cfg.ConnectionString()
	for _, part := range []string{"host=db.example.com", "dbname=lumina_engine", "sslmode=require"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("ConnectionString() = %q, missing %q", dsn, part)
		}
	}
}
