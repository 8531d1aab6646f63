package table

// Column is a named, single-kind vector of values. Missing values are nil.
type Column struct {
	name   string
	kind   Kind
	values []any
}

// NewColumn builds a column of the given kind. Values are cast to kind;
// values that cannot be represented become null.
func NewColumn(name string, kind Kind, values []any) *Column {
	out := make([]any, len(values))
	for i, v := range values {
		if c, ok := Convert(v, kind); ok {
			out[i] = c
		}
	}
	return &Column{name: name, kind: kind, values: out}
}

// InferColumn builds a column whose kind is inferred from its values.
func InferColumn(name string, values []any) *Column {
	return NewColumn(name, InferKind(values), values)
}

// NullColumn returns a column of n nulls.
func NullColumn(name string, kind Kind, n int) *Column {
	return &Column{name: name, kind: kind, values: make([]any, n)}
}

// InferKind returns the narrowest kind able to hold every non-null value.
// Integers mixed with floats infer float; any other mix infers string.
func InferKind(values []any) Kind {
	kind := KindNull
	for _, v := range values {
		_, k := Normalize(v)
		if k == KindNull || k == kind {
			continue
		}
		switch {
		case kind == KindNull:
			kind = k
		case kind.Numeric() && k.Numeric():
			kind = KindFloat64
		default:
			return KindString
		}
	}
	return kind
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the column kind.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of values.
func (c *Column) Len() int { return len(c.values) }

// Value returns the i-th value, nil when missing.
func (c *Column) Value(i int) any { return c.values[i] }

// IsNull reports whether the i-th value is missing.
func (c *Column) IsNull(i int) bool { return c.values[i] == nil }

// Values returns a copy of the column values.
func (c *Column) Values() []any {
	out := make([]any, len(c.values))
	copy(out, c.values)
	return out
}

// NullCount returns the number of missing values.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.values {
		if v == nil {
			n++
		}
	}
	return n
}

// AllNull reports whether every value is missing.
func (c *Column) AllNull() bool {
	return c.NullCount() == len(c.values)
}

// Cast converts the column to kind. Failed conversions become null.
func (c *Column) Cast(kind Kind) *Column {
	if kind == c.kind {
		return c
	}
	return NewColumn(c.name, kind, c.values)
}

// Renamed returns the column under a new name, sharing its values.
func (c *Column) Renamed(name string) *Column {
	return &Column{name: name, kind: c.kind, values: c.values}
}

// Map returns a new column of kind with fn applied to every value.
// fn receives nil for missing values; its results are cast to kind.
func (c *Column) Map(kind Kind, fn func(v any) any) *Column {
	out := make([]any, len(c.values))
	for i, v := range c.values {
		out[i] = fn(v)
	}
	return NewColumn(c.name, kind, out)
}

func (c *Column) take(idx []int) *Column {
	out := make([]any, len(idx))
	for i, j := range idx {
		out[i] = c.values[j]
	}
	return &Column{name: c.name, kind: c.kind, values: out}
}

func (c *Column) appendColumn(o *Column) *Column {
	out := make([]any, 0, len(c.values)+len(o.values))
	out = append(out, c.values...)
	out = append(out, o.values...)
	return &Column{name: c.name, kind: c.kind, values: out}
}

// MinMax returns the smallest and largest non-null values of c. Both are
// nil when every value is null.
func (c *Column) MinMax() (lo, hi any) {
	for _, v := range c.values {
		if v == nil {
			continue
		}
		if lo == nil || compareValues(v, lo) < 0 {
			lo = v
		}
		if hi == nil || compareValues(v, hi) > 0 {
			hi = v
		}
	}
	return lo, hi
}
