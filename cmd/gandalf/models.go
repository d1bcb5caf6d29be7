package main

import (
	"os"

	"github.com/hpn/gandalf-router/internal/ui"
)

// ModelsCmd lists the provider table without contacting any provider.
type ModelsCmd struct{}

func (c *ModelsCmd) Run(g *Globals) error {
	_, templates, err := g.loadConfig()
	if err != nil {
		return err
	}
	return ui.RenderProviders(g.stdout, templates, func(key string) bool {
		return os.Getenv(key) != ""
	})
}
