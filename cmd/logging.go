package cmd

import (
	"github.com/achilleasa/tilefarm/config"
	"github.com/achilleasa/tilefarm/log"
	"github.com/urfave/cli"
)

var logger = log.New("tilefarm")

// Apply the configured log level; the -v and -vv flags take precedence.
func setupLogging(ctx *cli.Context, cfg *config.Config) {
	log.SetLevel(cfg.Level())

	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}

// Load the configuration file given by the --config flag and apply command
// line overrides. Without a file the defaults are used.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := ctx.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if ctx.IsSet("ranks") {
		cfg.Cluster.Ranks = ctx.Int("ranks")
	}
	if ctx.IsSet("policy") {
		cfg.Cluster.Policy = ctx.String("policy")
	}
	if ctx.IsSet("passes") {
		cfg.Render.MaxPasses = ctx.Int("passes")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setupLogging(ctx, cfg)
	return cfg, nil
}
