package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Blackdeer1524/txnsim/src/engine"
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
	"github.com/Blackdeer1524/txnsim/src/sim"
	"github.com/Blackdeer1524/txnsim/src/txns"
)

const EnvPrefix = "TXNSIM"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Environment Environment `default:"dev"`

	DataDir  string `default:"data" split_words:"true"`
	DataFile string `default:"db.bin" split_words:"true"`
	LogFile  string `default:"log.jsonl" split_words:"true"`
	Items    int    `default:"32"`

	Cycles       int     `default:"100"`
	TxnSize      int     `default:"5" split_words:"true"`
	StartProb    float64 `default:"0.5" split_words:"true"`
	WriteProb    float64 `default:"0.5" split_words:"true"`
	RollbackProb float64 `default:"0.01" split_words:"true"`
	// lock wait limit in cycles, a negative value disables it
	Timeout int64 `default:"10"`

	LogBufferSize int    `default:"25" split_words:"true"`
	VictimPolicy  string `default:"fewest-locks" split_words:"true"`
	// 0 picks a time based seed
	Seed        uint64
	ArchiveLogs bool `split_words:"true"`
	Workers     int  `default:"4"`
}

// LoadConfig reads the .env file at path (".env" if empty) into the process
// environment and fills Config from TXNSIM_* variables. A missing file is
// not an error.
func LoadConfig(path string) (Config, error) {
	var err error
	if path == "" {
		err = godotenv.Load()
	} else {
		err = godotenv.Load(path)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %q: %w", path, err)
	}

	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, fmt.Errorf("envconfig: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DataDir != "", "data dir is empty")
	check(c.DataFile != "" && c.LogFile != "", "data and log file names must be set")
	check(c.DataFile != c.LogFile, "data and log file must differ")
	check(c.Items > 0, "items must be positive, got %d", c.Items)
	check(c.Cycles >= 0, "cycles must not be negative, got %d", c.Cycles)
	check(c.TxnSize > 0, "transaction size must be positive, got %d", c.TxnSize)
	check(isProb(c.StartProb), "start probability %v is not in [0, 1]", c.StartProb)
	check(isProb(c.WriteProb), "write probability %v is not in [0, 1]", c.WriteProb)
	check(isProb(c.RollbackProb), "rollback probability %v is not in [0, 1]", c.RollbackProb)
	check(c.LogBufferSize > 0, "log buffer size must be positive, got %d", c.LogBufferSize)
	check(c.Workers > 0, "workers must be positive, got %d", c.Workers)

	if _, err := txns.NewVictimPolicy(c.VictimPolicy, 0); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func isProb(p float64) bool {
	return p >= 0 && p <= 1
}

func (c Config) DataPath() string {
	return filepath.Join(c.DataDir, c.DataFile)
}

func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, c.LogFile)
}

// Engine returns the engine settings. Paths are relative to the data dir,
// callers open the engine on a filesystem rooted there.
func (c Config) Engine() engine.Config {
	timeout := optional.None[common.Tick]()
	if c.Timeout >= 0 {
		timeout = optional.Some(common.Tick(c.Timeout))
	}

	return engine.Config{
		DataPath:      c.DataFile,
		LogPath:       c.LogFile,
		Items:         c.Items,
		LogBufferSize: c.LogBufferSize,
		VictimPolicy:  c.VictimPolicy,
		Seed:          c.Seed,
		Timeout:       timeout,
		ArchiveLogs:   c.ArchiveLogs,
	}
}

func (c Config) Workload() sim.Workload {
	return sim.Workload{
		Cycles:       c.Cycles,
		TxnSize:      c.TxnSize,
		StartProb:    c.StartProb,
		WriteProb:    c.WriteProb,
		RollbackProb: c.RollbackProb,
	}
}

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"

	DefaultEnv = EnvDev
)

type Environment string

func (e Environment) Validate() error {
	if e != EnvDev && e != EnvProd {
		return errors.New("environment must be either dev or prod")
	}

	return nil
}
