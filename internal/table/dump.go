package table

import "encoding/json"

// jsonDump is the wire shape of a table's debug dump, grouping its live
// rows under the metadata a reader needs to make sense of them without
// decoding the binary snapshot format.
type jsonDump struct {
	Name     string `json:"name"`
	Kind     uint16 `json:"kind"`
	Count    int    `json:"count"`
	Capacity int    `json:"capacity"`
	Rows     any    `json:"rows"`
}

// DumpJSON renders the table's live rows as a human-readable JSON document,
// for the debug exporter. Unlike Slab, this is never fed back into
// RestoreSlab; it exists purely for bug reports.
func (t *Table[T]) DumpJSON() ([]byte, error) {
	return json.Marshal(jsonDump{
		Name:     t.name,
		Kind:     t.kind,
		Count:    t.count,
		Capacity: t.capacity,
		Rows:     t.rows[:t.count],
	})
}
