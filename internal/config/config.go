// Package config loads the YAML + flag-overlay configuration shared
// by cmd/beamdrop and cmd/beamdropd, replacing the teacher's raw
// flag.String calls in cli/main.go and main.go with a layered
// file-then-flags model, the way restic's cmd/restic/global.go layers
// environment and flags over defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Client holds cmd/beamdrop's tunables. Zero values are filled in by
// Defaults.
type Client struct {
	ServerURL string   `yaml:"serverURL"`
	DestDir   string   `yaml:"destDir"`
	SpillDir  string   `yaml:"spillDir"`
	ICEServers []string `yaml:"iceServers"`
	LogPretty bool     `yaml:"logPretty"`
}

// Server holds cmd/beamdropd's tunables.
type Server struct {
	Addr        string   `yaml:"addr"`
	StunServers []string `yaml:"stunServers"`
	LogPretty   bool     `yaml:"logPretty"`
	MetricsAddr string   `yaml:"metricsAddr"`
}

// DefaultClient returns the reference defaults, the same STUN servers
// and room-server address the teacher's main.go hardcodes.
func DefaultClient() Client {
	return Client{
		ServerURL: "ws://localhost:8089/ws",
		DestDir:   "./received",
		SpillDir:  os.TempDir(),
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		LogPretty: true,
	}
}

// DefaultServer returns the reference defaults for the signaling room
// server.
func DefaultServer() Server {
	return Server{
		Addr: "localhost:8089",
		StunServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
			"stun:stun3.l.google.com:19302",
			"stun:stun4.l.google.com:19302",
		},
		LogPretty:   true,
		MetricsAddr: "",
	}
}

// LoadClient reads a YAML file into DefaultClient's base, if path is
// non-empty and the file exists. A missing path is not an error — the
// caller is expected to run on defaults plus flag overrides.
func LoadClient(path string) (Client, error) {
	c := DefaultClient()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}

// LoadServer reads a YAML file into DefaultServer's base.
func LoadServer(path string) (Server, error) {
	c := DefaultServer()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
