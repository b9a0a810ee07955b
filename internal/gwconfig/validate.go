package gwconfig

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks structural constraints on cfg beyond what JSON decoding
// already guarantees: provider URLs, required fields, and api_types enum
// membership. Listener ports and the providers slice are validated
// separately by PortsValid, since valid port ranges depend on which
// listeners are enabled.
func Validate(cfg GatewayConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("gwconfig: invalid configuration: %w", err)
	}
	if err := PortsValid(cfg); err != nil {
		return err
	}
	return nil
}

// PortsValid reports an error if any enabled listener has a port outside
// 1-65535, or if two enabled listeners share a port.
func PortsValid(cfg GatewayConfig) error {
	type listener struct {
		name    string
		port    int
		enabled bool
	}
	listeners := []listener{
		{"anthropic_port", cfg.AnthropicPort, cfg.AnthropicEnabled},
		{"responses_port", cfg.ResponsesPort, cfg.ResponsesEnabled},
		{"chat_port", cfg.ChatPort, cfg.ChatEnabled},
	}

	seen := make(map[int]string)
	for _, l := range listeners {
		if !l.enabled {
			continue
		}
		if l.port < 1 || l.port > 65535 {
			return fmt.Errorf("gwconfig: %s=%d out of range 1-65535", l.name, l.port)
		}
		if other, ok := seen[l.port]; ok {
			return fmt.Errorf("gwconfig: %s and %s both bind port %d", other, l.name, l.port)
		}
		seen[l.port] = l.name
	}
	return nil
}
