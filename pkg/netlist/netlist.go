package netlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedCase marks input that cannot be read as a case at all.
var ErrMalformedCase = errors.New("malformed case")

// MATPOWER column layout
const (
	busI    = 0
	busType = 1
	busPd   = 2
	busQd   = 3
	busGs   = 4
	busBs   = 5
	busVm   = 7
	busVa   = 8

	brF      = 0
	brT      = 1
	brR      = 2
	brX      = 3
	brB      = 4
	brRatio  = 8
	brStatus = 10

	genBus    = 0
	genPg     = 1
	genQg     = 2
	genVg     = 5
	genStatus = 7
)

// CaseData is a case as supplied by the caller, before validation.
type CaseData struct {
	CaseID   string       // Predefined case name, if any
	Title    string       // Case title
	BaseMVA  *float64     // System base power, nil if omitted
	Buses    []BusData    // Bus records in declared order
	Branches []BranchData // Branch records in declared order
	Gens     []GenData    // Generator records, aggregated onto buses
}

// BusData holds one raw bus record. Type is kept as text ("pq", "3", ...)
// and resolved during validation.
type BusData struct {
	ID   float64
	Type string
	Pd   float64 // MW
	Qd   float64 // MVAr
	Pg   float64 // MW
	Qg   float64 // MVAr
	Gs   float64 // MW at V = 1 pu
	Bs   float64 // MVAr at V = 1 pu
	Vm   *float64
	Va   *float64 // degrees
}

type BranchData struct {
	From      float64
	To        float64
	R         float64
	X         float64
	B         float64
	Ratio     float64
	HasX      bool
	InService bool
}

type GenData struct {
	Bus       float64
	Pg        float64 // MW
	Qg        float64 // MVAr
	Vg        *float64
	InService bool
}

type caseObject struct {
	CaseID  json.RawMessage `json:"case_id,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Name    json.RawMessage `json:"name,omitempty"`
	Title   string          `json:"title"`
	BaseMVA *float64        `json:"baseMVA"`
	Bus     []BusData       `json:"bus"`
	Branch  []BranchData    `json:"branch"`
	Gen     []GenData       `json:"gen"`
}

func (c *CaseData) UnmarshalJSON(data []byte) error {
	var obj caseObject
	if err := json.Unmarshal(data, &obj); err != nil {
		if errors.Is(err, ErrMalformedCase) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedCase, err)
	}

	ids := make([]string, 0, 3)
	for _, raw := range []json.RawMessage{obj.CaseID, obj.ID, obj.Name} {
		id, err := rawText(raw)
		if err != nil {
			return fmt.Errorf("%w: case id must be a string or number", ErrMalformedCase)
		}
		ids = append(ids, id)
	}

	c.CaseID = firstNonEmpty(ids...)
	c.Title = obj.Title
	c.BaseMVA = obj.BaseMVA
	c.Buses = obj.Bus
	c.Branches = obj.Branch
	c.Gens = obj.Gen

	return nil
}

func (c CaseData) MarshalJSON() ([]byte, error) {
	var caseID json.RawMessage
	if c.CaseID != "" {
		caseID = json.RawMessage(strconv.Quote(c.CaseID))
	}
	return json.Marshal(caseObject{
		CaseID:  caseID,
		Title:   c.Title,
		BaseMVA: c.BaseMVA,
		Bus:     c.Buses,
		Branch:  c.Branches,
		Gen:     c.Gens,
	})
}

type busObject struct {
	ID   *float64        `json:"id"`
	BusI *float64        `json:"bus_i"`
	Type json.RawMessage `json:"type"`
	Pd   float64         `json:"Pd"`
	Qd   float64         `json:"Qd"`
	Pg   float64         `json:"Pg"`
	Qg   float64         `json:"Qg"`
	Gs   float64         `json:"Gs"`
	Bs   float64         `json:"Bs"`
	Vm   *float64        `json:"Vm"`
	Va   *float64        `json:"Va"`
}

func (b *BusData) UnmarshalJSON(data []byte) error {
	if isRow(data) {
		var row []float64
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: bus row: %v", ErrMalformedCase, err)
		}
		bus, err := BusFromRow(row)
		if err != nil {
			return err
		}
		*b = bus
		return nil
	}

	var obj busObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: bus: %v", ErrMalformedCase, err)
	}

	id := obj.ID
	if id == nil {
		id = obj.BusI
	}
	if id == nil {
		return fmt.Errorf("%w: bus missing id/bus_i", ErrMalformedCase)
	}

	busType, err := rawText(obj.Type)
	if err != nil {
		return fmt.Errorf("%w: bus type must be a string or number", ErrMalformedCase)
	}

	*b = BusData{
		ID:   *id,
		Type: busType,
		Pd:   obj.Pd,
		Qd:   obj.Qd,
		Pg:   obj.Pg,
		Qg:   obj.Qg,
		Gs:   obj.Gs,
		Bs:   obj.Bs,
		Vm:   obj.Vm,
		Va:   obj.Va,
	}
	return nil
}

func (b BusData) MarshalJSON() ([]byte, error) {
	return json.Marshal(busObject{
		ID:   &b.ID,
		Type: json.RawMessage(strconv.Quote(b.Type)),
		Pd:   b.Pd,
		Qd:   b.Qd,
		Pg:   b.Pg,
		Qg:   b.Qg,
		Gs:   b.Gs,
		Bs:   b.Bs,
		Vm:   b.Vm,
		Va:   b.Va,
	})
}

type branchObject struct {
	F      *float64 `json:"f"`
	T      *float64 `json:"t"`
	FBus   *float64 `json:"fbus"`
	TBus   *float64 `json:"tbus"`
	From   *float64 `json:"from"`
	To     *float64 `json:"to"`
	R      float64  `json:"r"`
	X      *float64 `json:"x"`
	B      float64  `json:"b"`
	Ratio  float64  `json:"ratio"`
	Status *float64 `json:"status"`
}

func (br *BranchData) UnmarshalJSON(data []byte) error {
	if isRow(data) {
		var row []float64
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: branch row: %v", ErrMalformedCase, err)
		}
		branch, err := BranchFromRow(row)
		if err != nil {
			return err
		}
		*br = branch
		return nil
	}

	var obj branchObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: branch: %v", ErrMalformedCase, err)
	}

	from := firstSet(obj.F, obj.FBus, obj.From)
	to := firstSet(obj.T, obj.TBus, obj.To)
	if from == nil || to == nil {
		return fmt.Errorf("%w: branch missing endpoints", ErrMalformedCase)
	}

	*br = BranchData{
		From:      *from,
		To:        *to,
		R:         obj.R,
		B:         obj.B,
		Ratio:     obj.Ratio,
		InService: obj.Status == nil || *obj.Status > 0,
	}
	if obj.X != nil {
		br.X = *obj.X
		br.HasX = true
	}
	return nil
}

func (br BranchData) MarshalJSON() ([]byte, error) {
	status := 0.0
	if br.InService {
		status = 1
	}
	obj := branchObject{
		F:      &br.From,
		T:      &br.To,
		R:      br.R,
		B:      br.B,
		Ratio:  br.Ratio,
		Status: &status,
	}
	if br.HasX {
		obj.X = &br.X
	}
	return json.Marshal(obj)
}

type genObject struct {
	Bus    *float64 `json:"bus"`
	Pg     float64  `json:"Pg"`
	Qg     float64  `json:"Qg"`
	Vg     *float64 `json:"Vg"`
	Status *float64 `json:"status"`
}

func (g *GenData) UnmarshalJSON(data []byte) error {
	if isRow(data) {
		var row []float64
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: gen row: %v", ErrMalformedCase, err)
		}
		gen, err := GenFromRow(row)
		if err != nil {
			return err
		}
		*g = gen
		return nil
	}

	var obj genObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: gen: %v", ErrMalformedCase, err)
	}
	if obj.Bus == nil {
		return fmt.Errorf("%w: gen missing bus", ErrMalformedCase)
	}

	*g = GenData{
		Bus:       *obj.Bus,
		Pg:        obj.Pg,
		Qg:        obj.Qg,
		Vg:        obj.Vg,
		InService: obj.Status == nil || *obj.Status > 0,
	}
	return nil
}

func (g GenData) MarshalJSON() ([]byte, error) {
	status := 0.0
	if g.InService {
		status = 1
	}
	return json.Marshal(genObject{Bus: &g.Bus, Pg: g.Pg, Qg: g.Qg, Vg: g.Vg, Status: &status})
}

// BusFromRow reads a MATPOWER bus row. At least id, type and Pd are needed.
func BusFromRow(row []float64) (BusData, error) {
	if len(row) < 3 {
		return BusData{}, fmt.Errorf("%w: bus row too short, need at least 3 cols, got %d", ErrMalformedCase, len(row))
	}

	bus := BusData{
		ID:   row[busI],
		Type: strconv.FormatFloat(row[busType], 'f', -1, 64),
		Pd:   row[busPd],
		Qd:   col(row, busQd),
		Gs:   col(row, busGs),
		Bs:   col(row, busBs),
	}
	if len(row) > busVm {
		vm := row[busVm]
		bus.Vm = &vm
	}
	if len(row) > busVa {
		va := row[busVa]
		bus.Va = &va
	}

	return bus, nil
}

// BranchFromRow reads a MATPOWER branch row. At least f, t, r and x are needed.
func BranchFromRow(row []float64) (BranchData, error) {
	if len(row) < 4 {
		return BranchData{}, fmt.Errorf("%w: branch row too short, need at least 4 cols, got %d", ErrMalformedCase, len(row))
	}

	return BranchData{
		From:      row[brF],
		To:        row[brT],
		R:         row[brR],
		X:         row[brX],
		B:         col(row, brB),
		Ratio:     col(row, brRatio),
		HasX:      true,
		InService: len(row) <= brStatus || row[brStatus] > 0,
	}, nil
}

// GenFromRow reads a MATPOWER gen row. At least bus and Pg are needed.
func GenFromRow(row []float64) (GenData, error) {
	if len(row) < 2 {
		return GenData{}, fmt.Errorf("%w: gen row too short, need at least 2 cols, got %d", ErrMalformedCase, len(row))
	}

	gen := GenData{
		Bus:       row[genBus],
		Pg:        row[genPg],
		Qg:        col(row, genQg),
		InService: len(row) <= genStatus || row[genStatus] > 0,
	}
	if len(row) > genVg {
		vg := row[genVg]
		gen.Vg = &vg
	}

	return gen, nil
}

func col(row []float64, idx int) float64 {
	if idx < len(row) {
		return row[idx]
	}
	return 0
}

func isRow(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// rawText reads a JSON string or number as text. Absent or null is "".
func rawText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return strconv.FormatFloat(n, 'f', -1, 64), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstSet(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
