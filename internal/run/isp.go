package run

import "fmt"

// Instance is a problem instance the target algorithm is run on.
type Instance struct {
	Name string
	// Specifics is passed verbatim to the wrapper, e.g. a known optimum.
	Specifics string
}

// ISP is an instance-seed pair, the smallest unit of repeatable execution
// context.
type ISP struct {
	Instance Instance
	Seed     int64
}

func (p ISP) String() string {
	return fmt.Sprintf("%s#%d", p.Instance.Name, p.Seed)
}
