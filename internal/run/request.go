package run

import (
	"fmt"
	"strings"
)

// Config is an opaque point in a configuration space. Two configurations
// are equal when their keys are equal.
type Config interface {
	Key() string
}

// SameConfig compares configurations by key. Nil configurations are only
// equal to each other.
func SameConfig(a, b Config) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// ArgsOf renders a configuration as wrapper arguments. Configurations that
// know their own arguments provide an Args method; otherwise the key is read
// as comma separated name=value pairs.
func ArgsOf(c Config) []string {
	if c == nil {
		return nil
	}
	if a, ok := c.(interface{ Args() []string }); ok {
		return a.Args()
	}
	var args []string
	for _, pair := range strings.Split(c.Key(), ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		args = append(args, "-"+name, value)
	}
	return args
}

// Profile holds the invocation parameters shared by every run of one
// configured target algorithm. It is shared by reference and never mutated.
type Profile struct {
	Executable    string
	WorkDir       string
	Deterministic bool
	// CutoffMax is the largest cutoff any run in the space may be given.
	CutoffMax float64
}

func (p *Profile) Key() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%s@%s,det=%t,max=%g", p.Executable, p.WorkDir, p.Deterministic, p.CutoffMax)
}

// Request identifies one unit of work. Requests with equal keys are
// interchangeable; two requests that differ only by cutoff are distinct.
type Request struct {
	ISP     ISP
	Cutoff  float64
	Config  Config
	Profile *Profile
}

func (r Request) Key() string {
	var cfg string
	if r.Config != nil {
		cfg = r.Config.Key()
	}
	var sb strings.Builder
	sb.WriteString(r.ISP.Instance.Name)
	sb.WriteByte('|')
	sb.WriteString(r.ISP.Instance.Specifics)
	fmt.Fprintf(&sb, "|%d|%g|", r.ISP.Seed, r.Cutoff)
	sb.WriteString(cfg)
	sb.WriteByte('|')
	sb.WriteString(r.Profile.Key())
	return sb.String()
}

func (r Request) Equal(o Request) bool {
	return r.Key() == o.Key()
}

// AtMaxCutoff reports whether the request cannot be capped any further.
func (r Request) AtMaxCutoff() bool {
	return r.Profile != nil && r.Cutoff >= r.Profile.CutoffMax
}

func (r Request) String() string {
	var cfg string
	if r.Config != nil {
		cfg = r.Config.Key()
	}
	return fmt.Sprintf("%s k=%g cfg=[%s]", r.ISP, r.Cutoff, cfg)
}

// Keys returns the request keys of a batch in order.
func Keys(batch []Request) []string {
	keys := make([]string, len(batch))
	for i, r := range batch {
		keys[i] = r.Key()
	}
	return keys
}
