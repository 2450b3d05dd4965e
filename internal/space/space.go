// Package space describes configuration spaces the tuner searches.
package space

import (
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/tuner/internal/run"
)

// Space samples configurations and bounds its own size.
type Space interface {
	Sample(rng *rand.Rand) run.Config
	Default() run.Config
	// SizeBounds returns lower and upper estimates of the number of distinct
	// configurations. Either may be +Inf.
	SizeBounds() (lower, upper float64)
}

// Param is one categorical parameter.
type Param struct {
	Name    string   `toml:"name"`
	Values  []string `toml:"values"`
	Default string   `toml:"default"`
}

// Discrete is a space of independent categorical parameters.
type Discrete struct {
	params []Param
}

type spaceFile struct {
	Params []Param `toml:"param"`
}

// NewDiscrete validates the parameters. A parameter without a default takes
// its first value.
func NewDiscrete(params []Param) (*Discrete, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("space has no parameters")
	}
	seen := make(map[string]bool, len(params))
	ps := make([]Param, len(params))
	for i, p := range params {
		if p.Name == "" || strings.ContainsAny(p.Name, "=,") {
			return nil, fmt.Errorf("invalid parameter name %q", p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("parameter %q has no values", p.Name)
		}
		if p.Default == "" {
			p.Default = p.Values[0]
		} else if !slices.Contains(p.Values, p.Default) {
			return nil, fmt.Errorf("default %q of parameter %q is not one of its values", p.Default, p.Name)
		}
		ps[i] = p
	}
	slices.SortFunc(ps, func(a, b Param) int { return strings.Compare(a.Name, b.Name) })
	return &Discrete{params: ps}, nil
}

// ReadDiscrete parses a TOML file with [[param]] tables.
func ReadDiscrete(path string) (*Discrete, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read space file: %w", err)
	}
	var f spaceFile
	if err := toml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse space file %s: %w", path, err)
	}
	return NewDiscrete(f.Params)
}

func (d *Discrete) Params() []Param {
	return slices.Clone(d.params)
}

func (d *Discrete) Sample(rng *rand.Rand) run.Config {
	values := make([]string, len(d.params))
	for i, p := range d.params {
		values[i] = p.Values[rng.IntN(len(p.Values))]
	}
	return d.assignment(values)
}

func (d *Discrete) Default() run.Config {
	values := make([]string, len(d.params))
	for i, p := range d.params {
		values[i] = p.Default
	}
	return d.assignment(values)
}

// SizeBounds is exact for a discrete space.
func (d *Discrete) SizeBounds() (lower, upper float64) {
	n := 1.0
	for _, p := range d.params {
		n *= float64(len(p.Values))
	}
	return n, n
}

func (d *Discrete) assignment(values []string) Assignment {
	a := Assignment{names: make([]string, len(d.params)), values: values}
	for i, p := range d.params {
		a.names[i] = p.Name
	}
	return a
}

// Assignment is a configuration of a Discrete space.
type Assignment struct {
	names  []string
	values []string
}

func (a Assignment) Key() string {
	var sb strings.Builder
	for i, n := range a.names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(n)
		sb.WriteByte('=')
		sb.WriteString(a.values[i])
	}
	return sb.String()
}

func (a Assignment) String() string { return a.Key() }

// Value returns the value of a parameter.
func (a Assignment) Value(name string) (string, bool) {
	i := slices.Index(a.names, name)
	if i < 0 {
		return "", false
	}
	return a.values[i], true
}

// Args renders the assignment as "-name value" pairs for a wrapper command
// line.
func (a Assignment) Args() []string {
	args := make([]string, 0, 2*len(a.names))
	for i, n := range a.names {
		args = append(args, "-"+n, a.values[i])
	}
	return args
}
