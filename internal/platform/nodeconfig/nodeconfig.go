// Package nodeconfig loads the on-disk YAML configuration for the node and
// community-server binaries, layering file contents over the overlay
// transport's own defaults.
package nodeconfig

import (
	"fmt"
	"os"

	"github.com/rekindle-chat/rekindle/internal/overlay"
	"gopkg.in/yaml.v3"
)

// NodeConfig is the top-level shape of config.yaml for rekindle-node.
type NodeConfig struct {
	DataDir  string                 `yaml:"dataDir"`
	RPCAddr  string                 `yaml:"rpcAddr"`
	RPCToken string                 `yaml:"rpcToken"`
	Waku     overlay.TransportConfig `yaml:"waku"`
}

func Default() NodeConfig {
	return NodeConfig{
		DataDir: ".",
		RPCAddr: "127.0.0.1:8787",
		Waku:    overlay.DefaultTransportConfig(),
	}
}

// Load reads path (if non-empty and present) and overlays it onto Default().
// A missing path is not an error: the binary falls back to defaults plus
// flag overrides.
func Load(path string) (NodeConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("nodeconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("nodeconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// CommunityServerConfig is the top-level shape of config.yaml for
// rekindle-community-server.
type CommunityServerConfig struct {
	DataDir    string                 `yaml:"dataDir"`
	SocketPath string                 `yaml:"socketPath"`
	DBPath     string                 `yaml:"dbPath"`
	Waku       overlay.TransportConfig `yaml:"waku"`
}

func DefaultCommunityServer() CommunityServerConfig {
	return CommunityServerConfig{
		DataDir:    ".",
		SocketPath: "rekindle-community.sock",
		DBPath:     "rekindle-community.db",
		Waku:       overlay.DefaultTransportConfig(),
	}
}

func LoadCommunityServer(path string) (CommunityServerConfig, error) {
	cfg := DefaultCommunityServer()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("nodeconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("nodeconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}
