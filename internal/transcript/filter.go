package transcript

import "strings"

// DefaultMinQV is the default quality threshold.
const DefaultMinQV = 20.0

// DefaultExcludePrefixes returns the feature-name prefixes of Xenium control
// probes and codewords. A fresh slice is returned on every call.
func DefaultExcludePrefixes() []string {
	return []string{
		"NegControlProbe_",
		"antisense_",
		"NegControlCodeword_",
		"BLANK_",
		"UnassignedCodeword_",
	}
}

// Filter decides which records reach the store.
type Filter struct {
	MinQV           float64
	ExcludePrefixes []string
	NucleusOnly     bool
}

// Decoder maps a raw cell code to an integer cell id.
type Decoder interface {
	Decode(code string) (uint32, error)
}

// Accepts reports whether r passes the quality and exclusion checks.
func (f Filter) Accepts(r Record) bool {
	if r.QV < f.MinQV {
		return false
	}
	for _, p := range f.ExcludePrefixes {
		if strings.HasPrefix(r.FeatureName, p) {
			return false
		}
	}
	return true
}

// Apply unassigns t when nucleus-only mode is on and t lies outside a nucleus.
func (f Filter) Apply(t *Transcript) {
	if f.NucleusOnly && !t.InNucleus {
		t.CellID = 0
	}
}

// Process filters records, decodes the cell code of every accepted record and
// applies the nucleus-only override. The first decode failure aborts with a
// *RowError naming the source row.
func (f Filter) Process(records []Record, dec Decoder) ([]Transcript, error) {
	out := make([]Transcript, 0, len(records))
	for _, r := range records {
		if !f.Accepts(r) {
			continue
		}
		id, err := dec.Decode(r.CellCode)
		if err != nil {
			return nil, &RowError{Row: r.Row, Err: err}
		}
		t := Transcript{Record: r, CellID: id}
		f.Apply(&t)
		out = append(out, t)
	}
	return out, nil
}
