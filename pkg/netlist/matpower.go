package netlist

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

type matpowerReader struct {
	data  *CaseData
	block string      // matrix being read, "" when outside a matrix
	rows  [][]float64 // rows gathered for block
	cell  bool        // inside a cell array, skipped
}

// ParseMatpower reads a MATPOWER case file (mpc.baseMVA, mpc.bus, mpc.gen,
// mpc.branch). Other fields are skipped.
func ParseMatpower(input string) (*CaseData, error) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	r := &matpowerReader{data: &CaseData{}}

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if idx := strings.Index(line, "%"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if err := r.parseLine(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCase, err)
	}

	if r.block != "" {
		return nil, fmt.Errorf("%w: unterminated matrix mpc.%s", ErrMalformedCase, r.block)
	}
	if len(r.data.Buses) == 0 {
		return nil, fmt.Errorf("%w: no mpc.bus matrix found", ErrMalformedCase)
	}

	return r.data, nil
}

func (r *matpowerReader) parseLine(line string) error {
	if r.block != "" {
		return r.parseRows(line)
	}

	if r.cell {
		if strings.Contains(line, "}") {
			r.cell = false
		}
		return nil
	}

	if strings.HasPrefix(line, "function") {
		if idx := strings.Index(line, "="); idx >= 0 {
			r.data.Title = strings.TrimSpace(line[idx+1:])
		}
		return nil
	}

	if !strings.HasPrefix(line, "mpc.") {
		return nil
	}

	name, rhs, found := strings.Cut(strings.TrimPrefix(line, "mpc."), "=")
	if !found {
		return fmt.Errorf("%w: expected assignment: %s", ErrMalformedCase, line)
	}
	name = strings.TrimSpace(name)
	rhs = strings.TrimSpace(rhs)

	switch {
	case strings.HasPrefix(rhs, "["):
		r.block = name
		r.rows = nil
		return r.parseRows(rhs[1:])

	case strings.HasPrefix(rhs, "{"):
		r.cell = !strings.Contains(rhs, "}")
		return nil

	case name == "baseMVA":
		value, err := strconv.ParseFloat(strings.TrimSuffix(rhs, ";"), 64)
		if err != nil {
			return fmt.Errorf("%w: invalid baseMVA: %v", ErrMalformedCase, err)
		}
		r.data.BaseMVA = &value
	}

	return nil
}

// parseRows consumes matrix rows until the closing bracket.
func (r *matpowerReader) parseRows(line string) error {
	body, closed := line, false
	if idx := strings.Index(line, "]"); idx >= 0 {
		body, closed = line[:idx], true
	}

	for _, segment := range strings.Split(body, ";") {
		fields := strings.Fields(strings.ReplaceAll(segment, ",", " "))
		if len(fields) == 0 {
			continue
		}

		row := make([]float64, len(fields))
		for i, field := range fields {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return fmt.Errorf("%w: mpc.%s: invalid number %q", ErrMalformedCase, r.block, field)
			}
			row[i] = value
		}
		r.rows = append(r.rows, row)
	}

	if closed {
		return r.flush()
	}
	return nil
}

func (r *matpowerReader) flush() error {
	block, rows := r.block, r.rows
	r.block, r.rows = "", nil

	switch block {
	case "bus":
		for i, row := range rows {
			bus, err := BusFromRow(row)
			if err != nil {
				return fmt.Errorf("bus[%d]: %w", i, err)
			}
			r.data.Buses = append(r.data.Buses, bus)
		}
	case "branch":
		for i, row := range rows {
			branch, err := BranchFromRow(row)
			if err != nil {
				return fmt.Errorf("branch[%d]: %w", i, err)
			}
			r.data.Branches = append(r.data.Branches, branch)
		}
	case "gen":
		for i, row := range rows {
			gen, err := GenFromRow(row)
			if err != nil {
				return fmt.Errorf("gen[%d]: %w", i, err)
			}
			r.data.Gens = append(r.data.Gens, gen)
		}
	}

	return nil
}
