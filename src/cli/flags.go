package cli

import "github.com/Blackdeer1524/txnsim/src/cfg"

func (c *RootCommand) initFlags() {
	c.PersistentFlags().StringVarP(
		&c.Options.ConfigPath,
		"config",
		"c",
		"",
		"Path to the .env configuration file",
	)
	c.PersistentFlags().StringVarP(
		&c.Options.DataDir,
		"data-dir",
		"d",
		"",
		"Directory holding the data file and the log (overrides TXNSIM_DATA_DIR)",
	)
	c.PersistentFlags().Uint64Var(
		&c.Options.Seed,
		"seed",
		0,
		"Random seed, 0 picks one from the clock (overrides TXNSIM_SEED)",
	)
}

// LoadConfig loads the configuration and applies the flags the user set on
// top of it.
func (c *RootCommand) LoadConfig() (cfg.Config, error) {
	config, err := cfg.LoadConfig(c.Options.ConfigPath)
	if err != nil {
		return cfg.Config{}, err
	}

	flags := c.PersistentFlags()
	if flags.Changed("data-dir") {
		config.DataDir = c.Options.DataDir
	}
	if flags.Changed("seed") {
		config.Seed = c.Options.Seed
	}

	return config, config.Validate()
}
