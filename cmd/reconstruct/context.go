package main

import (
	"strings"
	"sync"

	"github.com/marco-interact/colmap-mvp-sub000/internal/config"
)

type commandContext struct {
	serverFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// baseURL resolves the API endpoint: the --server flag wins, otherwise the
// configured bind address is assumed to be reachable locally.
func (c *commandContext) baseURL() (string, error) {
	if c.serverFlag != nil {
		if server := strings.TrimSpace(*c.serverFlag); server != "" {
			return strings.TrimRight(server, "/"), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Paths.APIBind, nil
}
