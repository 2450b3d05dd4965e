package procexec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/programme-lv/tuner/internal/run"
)

// Result is what a wrapper reports on its result line:
//
//	Result for SMAC: SAT, 0.31, 0, 0, 42, extra data
type Result struct {
	Status    run.Status
	Runtime   float64
	RunLength float64
	Quality   float64
	Seed      int64
	Extra     string
}

var resultLine = regexp.MustCompile(`^\s*Result (?:for [^:]+|of this algorithm run):\s*(.*)$`)

// ParseResult returns ok=false for lines that are not result lines.
func ParseResult(line string) (res Result, ok bool, err error) {
	m := resultLine.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false, nil
	}
	fields := strings.SplitN(m[1], ",", 6)
	if len(fields) < 5 {
		return Result{}, true, fmt.Errorf("result line has %d fields, need at least 5: %q", len(fields), line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	status, known := run.ParseStatus(strings.ToUpper(fields[0]))
	if !known || status == run.Running {
		return Result{}, true, fmt.Errorf("unknown run status %q", fields[0])
	}
	res.Status = status
	if res.Runtime, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return Result{}, true, fmt.Errorf("invalid runtime %q: %w", fields[1], err)
	}
	if res.RunLength, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return Result{}, true, fmt.Errorf("invalid run length %q: %w", fields[2], err)
	}
	if res.Quality, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return Result{}, true, fmt.Errorf("invalid quality %q: %w", fields[3], err)
	}
	if res.Seed, err = strconv.ParseInt(fields[4], 10, 64); err != nil {
		return Result{}, true, fmt.Errorf("invalid seed %q: %w", fields[4], err)
	}
	if len(fields) == 6 {
		res.Extra = fields[5]
	}
	return res, true, nil
}
