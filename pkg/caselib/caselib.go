// Package caselib holds the predefined cases that a request can select by
// case_id instead of supplying bus and branch data.
package caselib

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/edp1096/toy-powerflow/pkg/netlist"
)

var ErrUnknownCase = errors.New("unknown case")

//go:embed cases/*.m
var files embed.FS

// aliases maps every accepted case_id to its file.
var aliases = map[string]string{
	"case9":   "cases/case9.m",
	"ieee9":   "cases/case9.m",
	"ieee-9":  "cases/case9.m",
	"9":       "cases/case9.m",
	"case14":  "cases/case14.m",
	"ieee14":  "cases/case14.m",
	"ieee-14": "cases/case14.m",
	"14":      "cases/case14.m",
	"case30":  "cases/case30.m",
	"ieee30":  "cases/case30.m",
	"ieee-30": "cases/case30.m",
	"30":      "cases/case30.m",
}

// Load returns a fresh copy of the named case. Lookup ignores case and
// surrounding space.
func Load(id string) (*netlist.CaseData, error) {
	key := strings.ToLower(strings.TrimSpace(id))

	name, ok := aliases[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownCase, id, strings.Join(Names(), ", "))
	}

	data, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	c, err := netlist.ParseMatpower(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	c.CaseID = key

	return c, nil
}

// Names lists the accepted case ids.
func Names() []string {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
