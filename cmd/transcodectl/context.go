package main

import (
	"fmt"
	"strings"
	"sync"

	"transcoding_service/internal/transcode/bootstrap"
	"transcoding_service/pkg/config"
	"transcoding_service/pkg/logger"
)

type commandContext struct {
	configDir string

	depsOnce sync.Once
	deps     *bootstrap.Deps
	depsErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// ensureDeps load the service yaml once, connections stay lazy
func (c *commandContext) ensureDeps() (*bootstrap.Deps, error) {
	c.depsOnce.Do(func() {
		if logger.Log == nil {
			logger.SetNewNop()
		}
		if c.deps != nil {
			return
		}

		dir := strings.TrimSpace(c.configDir)
		if dir == "" {
			dir = config.EnvConfig.TranscodingServiceYAMLPath
		}
		cfg, err := config.ReadConfig[config.Transcoding](config.EnvConfig.TranscodingService, dir)
		if err != nil {
			c.depsErr = fmt.Errorf("load config from %s: %w", dir, err)
			return
		}
		c.deps, c.depsErr = bootstrap.New(cfg)
	})
	return c.deps, c.depsErr
}

func (c *commandContext) close() {
	if c.deps != nil {
		c.deps.Close()
	}
}
