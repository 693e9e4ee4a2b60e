package mixtures

import (
	"math"
)

//Table is a column-ordered numeric result set. Row order follows the input
//that produced it (states for free energies, condition rows for sweeps).
type Table struct {
	Columns []string
	Rows    [][]float64
}

//ColumnIndex returns the position of a named column, or -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

//Column returns the values of a named column, or nil if absent.
func (t *Table) Column(name string) []float64 {
	j := t.ColumnIndex(name)
	if j < 0 {
		return nil
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out
}

//At returns the value at a row and named column, or NaN if the column is
//absent.
func (t *Table) At(row int, name string) float64 {
	j := t.ColumnIndex(name)
	if j < 0 {
		return math.NaN()
	}
	return t.Rows[row][j]
}

//dropColumns returns a copy of the table without the named columns.
func (t *Table) dropColumns(names []string) *Table {
	unwanted := make(map[string]bool, len(names))
	for _, n := range names {
		unwanted[n] = true
	}
	var keep []int
	out := &Table{}
	for j, c := range t.Columns {
		if !unwanted[c] {
			keep = append(keep, j)
			out.Columns = append(out.Columns, c)
		}
	}
	for _, row := range t.Rows {
		newRow := make([]float64, len(keep))
		for i, j := range keep {
			newRow[i] = row[j]
		}
		out.Rows = append(out.Rows, newRow)
	}
	return out
}

//errorTitle names the standard-error column paired with an estimate column.
func errorTitle(name string) string {
	return "δ" + name
}

//Conditions is an ordered parameter table driving a sweep: each row assigns
//one value per named parameter and yields one output row.
type Conditions struct {
	Names []string
	Rows  [][]float64
}

//Grid builds a single-parameter condition table, one row per value.
func Grid(name string, values []float64) *Conditions {
	rows := make([][]float64, len(values))
	for i, v := range values {
		rows[i] = []float64{v}
	}
	return &Conditions{Names: []string{name}, Rows: rows}
}

//normalizeConditions validates a condition table and reduces the nil/empty
//cases to a single unconstrained row.
func normalizeConditions(c *Conditions) ([]string, [][]float64, error) {
	if c == nil || len(c.Rows) == 0 {
		return nil, [][]float64{nil}, nil
	}
	seen := make(map[string]bool, len(c.Names))
	for _, n := range c.Names {
		if seen[n] {
			return nil, nil, inputErrorf("duplicate condition parameter %q", n)
		}
		seen[n] = true
	}
	for i, row := range c.Rows {
		if len(row) != len(c.Names) {
			return nil, nil, inputErrorf("condition row %d has %d values for %d parameters", i, len(row), len(c.Names))
		}
	}
	return c.Names, c.Rows, nil
}

//checkConditionConstants rejects a sweep parameter that is also bound as a
//call-wide constant; the two would silently shadow each other.
func checkConditionConstants(names []string, constants map[string]float64) error {
	for _, n := range names {
		if _, ok := constants[n]; ok {
			return inputErrorf("condition parameter %q is also a constant", n)
		}
	}
	return nil
}

//mergeConstants overlays one condition row onto the call-wide constants.
func mergeConstants(constants map[string]float64, names []string, row []float64) map[string]float64 {
	merged := make(map[string]float64, len(constants)+len(names))
	for k, v := range constants {
		merged[k] = v
	}
	for i, n := range names {
		merged[n] = row[i]
	}
	return merged
}
