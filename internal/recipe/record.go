package recipe

// Row is one raw result row. A nil cell is a NULL value.
type Row []*string

// Record is the normalized projection of a result row.
type Record struct {
	PropertyA string `json:"structure_property_a"`
	PropertyB string `json:"structure_property_b"`
}

// NewRecord maps the first two cells of row; missing or NULL cells become "".
func NewRecord(row Row) Record {
	return Record{
		PropertyA: row.cell(0),
		PropertyB: row.cell(1),
	}
}

func (r Row) cell(i int) string {
	if i >= len(r) || r[i] == nil {
		return ""
	}
	return *r[i]
}

func toRecords(rows []Row) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewRecord(row))
	}
	return out
}
