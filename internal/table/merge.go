package table

// Align brings a and b to one shared schema. The result columns are a's
// columns in a's order followed by b's new columns in b's order. A column
// missing on one side is added there as nulls of the other side's kind
// (string when that kind is null). A column present on both sides is cast
// on both sides to CommonKind of the two.
//
// Align is total: a value that cannot be cast becomes null instead of
// failing the merge.
func Align(a, b *Table) (*Table, *Table) {
	names := a.Names()
	for _, n := range b.Names() {
		if !a.Has(n) {
			names = append(names, n)
		}
	}

	ac := make([]*Column, len(names))
	bc := make([]*Column, len(names))
	for i, name := range names {
		ca, okA := a.Column(name)
		cb, okB := b.Column(name)
		switch {
		case okA && okB:
			kind := CommonKind(ca.kind, cb.kind)
			ac[i], bc[i] = ca.Cast(kind), cb.Cast(kind)
		case okA:
			ac[i] = ca
			bc[i] = NullColumn(name, fillKind(ca.kind), b.rows)
			if ca.kind == KindNull {
				ac[i] = ca.Cast(KindString)
			}
		default:
			bc[i] = cb
			ac[i] = NullColumn(name, fillKind(cb.kind), a.rows)
			if cb.kind == KindNull {
				bc[i] = cb.Cast(KindString)
			}
		}
	}
	return MustNew(ac...), MustNew(bc...)
}

func fillKind(k Kind) Kind {
	if k == KindNull {
		return KindString
	}
	return k
}

// Union aligns a and b and appends b's rows after a's.
func Union(a, b *Table) *Table {
	if a.NumColumns() == 0 && a.rows == 0 {
		return b
	}
	if b.NumColumns() == 0 && b.rows == 0 {
		return a
	}
	a, b = Align(a, b)
	cols := make([]*Column, len(a.columns))
	for i, c := range a.columns {
		cols[i] = c.appendColumn(b.columns[i])
	}
	return MustNew(cols...)
}

// Concat unions tables in order. Column order and kinds are those of
// folding Union over tables, but the schema is resolved once and every
// input column is cast straight to its final kind and copied once.
func Concat(tables ...*Table) *Table {
	parts := make([]*Table, 0, len(tables))
	for _, t := range tables {
		if t == nil || (t.NumColumns() == 0 && t.rows == 0) {
			continue
		}
		parts = append(parts, t)
	}
	switch len(parts) {
	case 0:
		return Empty()
	case 1:
		return parts[0]
	}

	// Kinds evolve the way successive Align calls widen them.
	names := parts[0].Names()
	kinds := make(map[string]Kind, len(names))
	for _, c := range parts[0].columns {
		kinds[c.name] = c.kind
	}
	total := parts[0].rows
	for _, t := range parts[1:] {
		for _, n := range names {
			if c, ok := t.Column(n); ok {
				kinds[n] = CommonKind(kinds[n], c.kind)
			} else if kinds[n] == KindNull {
				kinds[n] = KindString
			}
		}
		for _, c := range t.columns {
			if _, seen := kinds[c.name]; seen {
				continue
			}
			names = append(names, c.name)
			kinds[c.name] = fillKind(c.kind)
		}
		total += t.rows
	}

	cols := make([]*Column, len(names))
	for i, n := range names {
		values := make([]any, 0, total)
		for _, t := range parts {
			c, ok := t.Column(n)
			if !ok {
				values = append(values, make([]any, t.rows)...)
				continue
			}
			values = append(values, c.Cast(kinds[n]).values...)
		}
		cols[i] = &Column{name: n, kind: kinds[n], values: values}
	}
	return MustNew(cols...)
}

// UpcastNull returns t with every null-kind column converted to string, so
// that later merges see a concrete type.
func UpcastNull(t *Table) *Table {
	changed := false
	cols := t.Columns()
	for i, c := range cols {
		if c.kind == KindNull {
			cols[i] = c.Cast(KindString)
			changed = true
		}
	}
	if !changed {
		return t
	}
	return MustNew(cols...)
}
