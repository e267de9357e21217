package config

import (
	"fmt"
	"net/url"

	"github.com/mitul-open-wallet/cosmos-stream/internal/chain"
)

// ResolveChains maps the configured chain ids onto registry rows and applies
// endpoint overrides. Any unknown id fails the whole resolution.
func (c *Config) ResolveChains() ([]chain.Chain, error) {
	chains := make([]chain.Chain, 0, len(c.Chains.IDs))
	seen := make(map[string]bool, len(c.Chains.IDs))

	for _, id := range c.Chains.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		ch, err := chain.Lookup(id)
		if err != nil {
			return nil, err
		}
		if endpoint, ok := c.Chains.Endpoints[id]; ok && endpoint != "" {
			ch.Endpoint = endpoint
		}
		if c.Stream.StallThreshold > 0 {
			ch.StallThreshold = c.Stream.StallThreshold
		}
		chains = append(chains, ch)
	}

	return chains, nil
}

// AMQPURL returns the configured url or assembles one from its parts.
func (c RabbitMQConfig) AMQPURL() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	if c.VHost != "" && c.VHost != "/" {
		u.Path = "/" + c.VHost
	}
	return u.String()
}
