package run

// Status is the state of a single target algorithm run. The values match the
// tokens target algorithm wrappers print on their result line.
type Status string

const (
	Running Status = "RUNNING"
	Sat     Status = "SAT"
	Unsat   Status = "UNSAT"
	Timeout Status = "TIMEOUT"
	Crashed Status = "CRASHED"
	Killed  Status = "KILLED"
)

// ParseStatus maps a wrapper token to a Status. SUCCESS is accepted as an
// alias of SAT since quality-optimising wrappers report it.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case Running, Sat, Unsat, Timeout, Crashed, Killed:
		return Status(s), true
	}
	if s == "SUCCESS" {
		return Sat, true
	}
	return "", false
}

// Terminal reports whether no further updates can follow.
func (s Status) Terminal() bool {
	return s != Running && s != ""
}

// Decided reports whether the algorithm reached a definitive answer.
func (s Status) Decided() bool {
	return s == Sat || s == Unsat
}
