package solver

import (
	"encoding/json"

	"github.com/iancoleman/orderedmap"

	"github.com/Eggwite/megacloud-key-extractor/keys"
)

// Report lays the result out in a fixed key order for JSON output.
func (r *Result) Report() *orderedmap.OrderedMap {
	o := orderedmap.New()
	o.Set("input", r.Input)

	var found, nonHex, wrongLength []keys.Candidate
	if r.Keys != nil {
		found, nonHex, wrongLength = r.Keys.Found, r.Keys.NonHex, r.Keys.WrongLength
	}
	o.Set("found", candidates(found))
	o.Set("nonHex", candidates(nonHex))
	o.Set("wrongLength", candidates(wrongLength))

	diags := make([]string, len(r.Diagnostics))
	for i, d := range r.Diagnostics {
		diags[i] = d.String()
	}
	o.Set("diagnostics", diags)

	stats := orderedmap.New()
	stats.Set("loops", r.Stats.Loops)
	stats.Set("arrayReads", r.Stats.ArrayReads)
	stats.Set("wrapperCalls", r.Stats.WrapperCalls)
	stats.Set("stringCalls", r.Stats.StringCalls)
	stats.Set("machines", r.Stats.Machines)
	stats.Set("removed", r.Stats.Removed)
	stats.Set("converged", r.Stats.Converged)
	o.Set("stats", stats)
	return o
}

func candidates(list []keys.Candidate) []*orderedmap.OrderedMap {
	out := make([]*orderedmap.OrderedMap, len(list))
	for i, c := range list {
		m := orderedmap.New()
		m.Set("value", c.Value)
		m.Set("extractor", string(c.Extractor))
		sources := c.Sources
		if sources == nil {
			sources = []string{}
		}
		m.Set("sources", sources)
		m.Set("length", c.Length)
		out[i] = m
	}
	return out
}

// MarshalReports renders one report per item, failures included, as an
// indented JSON array.
func MarshalReports(items []BatchItem) ([]byte, error) {
	reports := make([]*orderedmap.OrderedMap, len(items))
	for i, it := range items {
		if it.Err != nil {
			o := orderedmap.New()
			o.Set("input", it.Input)
			o.Set("error", it.Err.Error())
			reports[i] = o
			continue
		}
		reports[i] = it.Result.Report()
	}
	return json.MarshalIndent(reports, "", "  ")
}
