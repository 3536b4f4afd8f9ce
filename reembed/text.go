package reembed

import (
	"strings"

	"github.com/poiesic/cellar/core"
)

// textFields lists the attributes that describe a wine, in the order they
// are written into the embedded text.
var textFields = []struct {
	name  string
	label string
}{
	{core.AttrTitle, ""},
	{core.AttrVariety, "Variety"},
	{core.AttrCountry, "Country"},
	{core.AttrRegion, "Region"},
	{core.AttrWinery, "Winery"},
	{core.AttrDescription, ""},
}

// DocumentText builds the text embedded for a record. Missing attributes are
// left out. A record with none of the fields yields an empty string.
func DocumentText(rec *core.Record) string {
	var parts []string
	for _, f := range textFields {
		v, ok := rec.Text(f.name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if f.label != "" {
			v = f.label + ": " + v
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, ". ")
}
