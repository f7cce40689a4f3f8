package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NetworkEndpoints groups the interchangeable endpoints for one network.
// RPC URLs serve the backup polling path, websocket URLs the streaming
// relays the firehose listener dials.
type NetworkEndpoints struct {
	RPC       []string `yaml:"rpc"`
	Websocket []string `yaml:"websocket"`
}

// EndpointPools is the full endpoint-pool definition file, keyed by network
// name ("solana" by default).
type EndpointPools struct {
	Networks map[string]NetworkEndpoints `yaml:"networks"`
}

// LoadEndpointPools loads endpoint pool definitions from the given path.
func LoadEndpointPools(path string) (*EndpointPools, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints file: %w", err)
	}
	var pools EndpointPools
	if err := yaml.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("failed to parse endpoints file: %w", err)
	}
	return &pools, nil
}

// Network returns the endpoint set for the named network. A missing network
// yields an empty set rather than an error; callers treat an empty pool as
// "degraded, try again later".
func (p *EndpointPools) Network(name string) NetworkEndpoints {
	if p == nil || p.Networks == nil {
		return NetworkEndpoints{}
	}
	return p.Networks[name]
}
