package aggregate

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// Func is an aggregation function applied to a value column within a
// (polygon, category) group.
type Func string

// Supported aggregation functions.
const (
	Sum   Func = "sum"
	Mean  Func = "mean"
	Max   Func = "max"
	Min   Func = "min"
	Count Func = "count"
)

var knownFuncs = []Func{Sum, Mean, Max, Min, Count}

// Additive reports whether per-category results can be summed into a
// polygon total. Only sum and count are additive.
func (f Func) Additive() bool { return f == Sum || f == Count }

// ParseFunc validates a function name.
func ParseFunc(s string) (Func, error) {
	f := Func(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range knownFuncs {
		if f == k {
			return f, nil
		}
	}
	return "", eris.Errorf("aggregate: unknown aggregation function %q", s)
}

// ParseFuncs validates a list of function names. An empty list means sum.
func ParseFuncs(names []string) ([]Func, error) {
	if len(names) == 0 {
		return []Func{Sum}, nil
	}
	out := make([]Func, 0, len(names))
	seen := make(map[Func]bool)
	for _, n := range names {
		f, err := ParseFunc(n)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// Triple identifies one wide output column. Category is empty for totals.
type Triple struct {
	Value    string
	Func     Func
	Category string
}

// Column is a generated output column.
type Column struct {
	Triple
	Name string
}

// Naming is the explicit mapping from (value, function, category) triples
// to generated column names.
type Naming struct {
	Separator string
	Wide      []Column
	Totals    []Column
	names     map[Triple]string
}

// NewNaming builds the wide and total column names. Wide columns are
// ordered value → function → category; totals value → function.
// Categories and value columns may not end with a reserved
// "<sep><func>" suffix, and every generated name must be unique.
func NewNaming(valueCols []string, funcs []Func, categories []string, sep string) (*Naming, error) {
	if sep == "" {
		return nil, eris.New("aggregate: separator must not be empty")
	}
	for _, v := range valueCols {
		if err := checkPart("value column", v, sep); err != nil {
			return nil, err
		}
	}
	for _, c := range categories {
		if err := checkPart("category", c, sep); err != nil {
			return nil, err
		}
	}

	n := &Naming{Separator: sep, names: make(map[Triple]string)}
	used := make(map[string]Triple)
	add := func(tr Triple, name string) error {
		if prev, dup := used[name]; dup {
			return eris.Errorf("aggregate: column name %q generated for both %+v and %+v", name, prev, tr)
		}
		used[name] = tr
		n.names[tr] = name
		return nil
	}

	for _, v := range valueCols {
		for _, f := range funcs {
			for _, c := range categories {
				tr := Triple{Value: v, Func: f, Category: c}
				name := v + sep + string(f) + sep + c
				if err := add(tr, name); err != nil {
					return nil, err
				}
				n.Wide = append(n.Wide, Column{Triple: tr, Name: name})
			}
		}
	}
	for _, v := range valueCols {
		for _, f := range funcs {
			if !f.Additive() {
				continue
			}
			tr := Triple{Value: v, Func: f}
			name := v + sep + string(f)
			if err := add(tr, name); err != nil {
				return nil, err
			}
			n.Totals = append(n.Totals, Column{Triple: tr, Name: name})
		}
	}
	return n, nil
}

// Name returns the wide column for a triple.
func (n *Naming) Name(value string, f Func, category string) (string, bool) {
	if category == "" {
		return "", false
	}
	name, ok := n.names[Triple{Value: value, Func: f, Category: category}]
	return name, ok
}

// Total returns the total column for a value column and additive function.
func (n *Naming) Total(value string, f Func) (string, bool) {
	name, ok := n.names[Triple{Value: value, Func: f}]
	return name, ok
}

// CategoryColumns returns the wide columns of one value/function pair in
// category order, e.g. as input to relative frequency or entropy.
func (n *Naming) CategoryColumns(value string, f Func) []string {
	var out []string
	for _, c := range n.Wide {
		if c.Value == value && c.Func == f {
			out = append(out, c.Name)
		}
	}
	return out
}

// Names returns every generated column name, wide columns first.
func (n *Naming) Names() []string {
	out := make([]string, 0, len(n.Wide)+len(n.Totals))
	for _, c := range n.Wide {
		out = append(out, c.Name)
	}
	for _, c := range n.Totals {
		out = append(out, c.Name)
	}
	return out
}

func checkPart(kind, s, sep string) error {
	if s == "" {
		return eris.Errorf("aggregate: empty %s", kind)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return eris.Errorf("aggregate: %s %q contains a control character", kind, s)
		}
	}
	for _, f := range knownFuncs {
		if strings.HasSuffix(s, sep+string(f)) {
			return eris.Errorf("aggregate: %s %q ends with reserved suffix %q", kind, s, sep+string(f))
		}
	}
	return nil
}
