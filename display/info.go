package display

import (
	"strconv"
	"strings"

	"github.com/teranos/kestrel/dataset"
)

// VariableInfo is what INFO reports about a bound variable
type VariableInfo struct {
	Name         string
	Data         *dataset.Dataset
	BirthCommand string
	DataSource   string
	Dependents   []string
}

// Attributes splits a schema into the attributes of the entity itself,
// the attributes of referenced entities grouped by reference, and custom
// x_ attributes. Bare reference attributes are not reported.
func Attributes(columns []string) (direct []string, indirect [][]string, custom []string) {
	groups := map[string]int{}
	for _, c := range columns {
		switch {
		case strings.HasPrefix(c, "x_"):
			custom = append(custom, c)
		case isReference(c):
		case strings.Contains(c, "_ref.") || strings.Contains(c, "_ref_"):
			prefix := c
			if i := strings.LastIndex(c, "."); i > 0 {
				prefix = c[:i]
			}
			idx, ok := groups[prefix]
			if !ok {
				idx = len(indirect)
				groups[prefix] = idx
				indirect = append(indirect, nil)
			}
			indirect[idx] = append(indirect[idx], c)
		default:
			direct = append(direct, c)
		}
	}
	return direct, indirect, custom
}

func isReference(attr string) bool {
	for _, suffix := range []string{"_ref", "_refs", "_reference", "_references"} {
		if strings.HasSuffix(attr, suffix) {
			return true
		}
	}
	return false
}

// NewInfo builds the INFO display of a variable
func NewInfo(v VariableInfo) *Dict {
	direct, indirect, custom := Attributes(v.Data.Columns)
	lines := make([]string, len(indirect))
	for i, g := range indirect {
		lines[i] = strings.Join(g, ", ")
	}

	d := &Dict{}
	d.Add("Entity Type", v.Data.EntityType)
	d.Add("Number of Entities", strconv.Itoa(v.Data.Distinct().Len()))
	d.Add("Number of Records", strconv.Itoa(v.Data.Len()))
	d.Add("Entity Attributes", strings.Join(direct, ", "))
	d.Add("Indirect Attributes", lines)
	d.Add("Customized Attributes", strings.Join(custom, ", "))
	d.Add("Birth Command", v.BirthCommand)
	d.Add("Associated Datasource", v.DataSource)
	d.Add("Dependent Variables", strings.Join(v.Dependents, ", "))
	return d
}
