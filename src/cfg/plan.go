package cfg

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var ErrInvalidPlan = errors.New("invalid sweep plan")

// Plan is a list of simulations run side by side. Each run starts from the
// base config and overrides the fields it sets.
type Plan struct {
	Runs []PlanRun `yaml:"runs"`
}

type PlanRun struct {
	Name string `yaml:"name"`

	Items         *int     `yaml:"items"`
	Cycles        *int     `yaml:"cycles"`
	TxnSize       *int     `yaml:"txn_size"`
	StartProb     *float64 `yaml:"start_prob"`
	WriteProb     *float64 `yaml:"write_prob"`
	RollbackProb  *float64 `yaml:"rollback_prob"`
	Timeout       *int64   `yaml:"timeout"`
	LogBufferSize *int     `yaml:"log_buffer_size"`
	VictimPolicy  *string  `yaml:"victim_policy"`
	Seed          *uint64  `yaml:"seed"`
	ArchiveLogs   *bool    `yaml:"archive_logs"`
}

func DecodePlan(r io.Reader) (Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return Plan{}, fmt.Errorf("%w: empty document", ErrInvalidPlan)
		}
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	if err := p.validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func LoadPlan(fs afero.Fs, path string) (Plan, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Plan{}, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()

	p, err := DecodePlan(f)
	if err != nil {
		return Plan{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p Plan) validate() error {
	if len(p.Runs) == 0 {
		return fmt.Errorf("%w: no runs", ErrInvalidPlan)
	}

	seen := make(map[string]struct{}, len(p.Runs))
	for i, r := range p.Runs {
		// run names become directory names under the data dir
		if r.Name == "" || r.Name == "." || r.Name == ".." ||
			strings.ContainsAny(r.Name, `/\`) || filepath.Clean(r.Name) != r.Name {
			return fmt.Errorf("%w: run %d has bad name %q", ErrInvalidPlan, i, r.Name)
		}
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("%w: duplicate run %q", ErrInvalidPlan, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// Apply returns base with the run's overrides. The data dir becomes the
// run's own sub-directory.
func (r PlanRun) Apply(base Config) (Config, error) {
	c := base
	c.DataDir = filepath.Join(base.DataDir, r.Name)

	set(&c.Items, r.Items)
	set(&c.Cycles, r.Cycles)
	set(&c.TxnSize, r.TxnSize)
	set(&c.StartProb, r.StartProb)
	set(&c.WriteProb, r.WriteProb)
	set(&c.RollbackProb, r.RollbackProb)
	set(&c.Timeout, r.Timeout)
	set(&c.LogBufferSize, r.LogBufferSize)
	set(&c.VictimPolicy, r.VictimPolicy)
	set(&c.Seed, r.Seed)
	set(&c.ArchiveLogs, r.ArchiveLogs)

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("run %q: %w", r.Name, err)
	}
	return c, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
