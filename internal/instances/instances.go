// Package instances hands out instance-seed pairs.
package instances

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"github.com/programme-lv/tuner/internal/run"
)

// Seeds produces seeds per instance.
type Seeds interface {
	Instances() []run.Instance
	HasNext(inst run.Instance) bool
	Next(inst run.Instance) (int64, error)
}

// Generator draws seeds from one random stream per instance. In reinit mode
// every instance restarts its stream each time Reinit is called, so the same
// seeds come out again in the same order.
type Generator struct {
	mu        sync.Mutex
	instances []run.Instance
	seed      uint64
	limit     int
	reinit    bool
	streams   map[string]*stream
}

type stream struct {
	rng  *rand.Rand
	used int
}

type Options struct {
	// Limit caps the seeds per instance; zero means unlimited.
	Limit int
	// Reinit makes Reinit replay the seed streams from the start.
	Reinit bool
}

func NewGenerator(instances []run.Instance, seed int64, opts Options) *Generator {
	g := &Generator{
		instances: instances,
		seed:      uint64(seed),
		limit:     opts.Limit,
		reinit:    opts.Reinit,
	}
	g.reset()
	return g
}

func (g *Generator) reset() {
	g.streams = make(map[string]*stream, len(g.instances))
	for i, inst := range g.instances {
		g.streams[inst.Name] = &stream{rng: rand.New(rand.NewPCG(g.seed, uint64(i)))}
	}
}

func (g *Generator) Instances() []run.Instance {
	return g.instances
}

func (g *Generator) HasNext(inst run.Instance) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.streams[inst.Name]
	return ok && (g.limit == 0 || s.used < g.limit)
}

func (g *Generator) Next(inst run.Instance) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.streams[inst.Name]
	if !ok {
		return 0, fmt.Errorf("unknown instance %q", inst.Name)
	}
	if g.limit > 0 && s.used >= g.limit {
		return 0, fmt.Errorf("instance %q has no seeds left", inst.Name)
	}
	s.used++
	return s.rng.Int64N(1 << 31), nil
}

// Reinit restarts every seed stream. It does nothing unless the generator
// was created in reinit mode.
func (g *Generator) Reinit() {
	if !g.reinit {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

// ReadList reads one instance per line. Anything after the first whitespace
// is kept as the instance specifics; blank lines and # comments are skipped.
func ReadList(path string) ([]run.Instance, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance list: %w", err)
	}
	var res []run.Instance
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, specifics, _ := strings.Cut(line, " ")
		res = append(res, run.Instance{Name: name, Specifics: strings.TrimSpace(specifics)})
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("instance list %s is empty", path)
	}
	return res, nil
}
