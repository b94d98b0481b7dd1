// Package powerflow is the entry point for a single solve: it resolves the
// case, validates it, runs the selected analysis and formats the result.
package powerflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edp1096/toy-powerflow/pkg/analysis"
	"github.com/edp1096/toy-powerflow/pkg/caselib"
	"github.com/edp1096/toy-powerflow/pkg/netlist"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/result"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrNoCase        = errors.New("no case supplied")

	// ErrInternal marks solver faults as opposed to bad input.
	ErrInternal = errors.New("internal solver error")
)

type Request struct {
	Case    *netlist.CaseData `json:"case"`
	Method  string            `json:"method"`
	Options *Options          `json:"options,omitempty"`
}

type Options struct {
	MaxIter   int     `json:"max_iter,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`
	FlatStart bool    `json:"flat_start,omitempty"`
}

// ParseMethod accepts "dc" or "ac" in any case. Empty means dc.
func ParseMethod(s string) (analysis.Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dc":
		return analysis.DC, nil
	case "ac":
		return analysis.AC, nil
	default:
		return "", fmt.Errorf("%w: %q (want dc or ac)", ErrUnknownMethod, s)
	}
}

// IsInputError reports whether err was caused by the request rather than
// by the solver.
func IsInputError(err error) bool {
	return errors.Is(err, network.ErrInvalidNetwork) ||
		errors.Is(err, ErrUnknownMethod) ||
		errors.Is(err, ErrNoCase) ||
		errors.Is(err, caselib.ErrUnknownCase) ||
		errors.Is(err, netlist.ErrMalformedCase)
}

// Resolve returns the case to solve: the predefined case named by case_id
// when no bus data is supplied, the request's own data otherwise.
func Resolve(c *netlist.CaseData) (*netlist.CaseData, error) {
	if c == nil {
		return nil, ErrNoCase
	}
	if c.CaseID != "" && len(c.Buses) == 0 {
		return caselib.Load(c.CaseID)
	}
	return c, nil
}

// Run solves one request. Non-convergence and singular systems are part of
// the response; errors are either input errors (see IsInputError) or wrap
// ErrInternal.
func Run(ctx context.Context, req *Request) (resp *result.Response, err error) {
	if req == nil {
		return nil, ErrNoCase
	}

	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}

	raw, err := Resolve(req.Case)
	if err != nil {
		return nil, err
	}

	net, err := network.Validate(raw)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("stack", string(debug.Stack())).Errorf("solver panic: %v", r)
			resp, err = nil, fmt.Errorf("%w: panic: %v", ErrInternal, r)
		}
	}()

	var a analysis.Analysis
	switch method {
	case analysis.AC:
		a = analysis.NewAC(options(req.Options)...)
	default:
		a = analysis.NewDC(options(req.Options)...)
	}

	start := time.Now()

	err = a.Setup(net)
	if err != nil {
		return nil, fmt.Errorf("%w: setup: %w", ErrInternal, err)
	}

	err = a.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	st := a.State()
	resp = result.Format(net, st)
	resp.CaseID = raw.CaseID

	logrus.WithFields(logrus.Fields{
		"method":     method,
		"case":       raw.CaseID,
		"buses":      net.NumBuses(),
		"branches":   net.NumBranches(),
		"converged":  st.Converged,
		"iterations": st.Iterations,
		"elapsed":    time.Since(start),
	}).Debug("power flow solved")

	return resp, nil
}

func options(o *Options) []analysis.Option {
	if o == nil {
		return nil
	}
	return []analysis.Option{
		analysis.WithMaxIter(o.MaxIter),
		analysis.WithTolerance(o.Tolerance),
		analysis.WithFlatStart(o.FlatStart),
	}
}
