package models

// Field is one named value of a Record.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is one validated, normalized input row keyed by the schema's field names.
// Records are immutable once built; accessors return copies.
type Record struct {
	position int
	fields   []Field
}

// NewRecord builds a record at the given 1-based position. names and values must
// have the same length; missing values become empty strings.
func NewRecord(position int, names []string, values []string) Record {
	fields := make([]Field, len(names))
	for i, name := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		fields[i] = Field{Name: name, Value: v}
	}
	return Record{position: position, fields: fields}
}

// Position returns the 1-based row position of the record within its batch.
func (r Record) Position() int {
	return r.position
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Names returns the field names in schema order.
func (r Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Fields returns a copy of the ordered fields.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the value of a field and whether the field exists.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Map returns the record as a fresh name -> value map.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.fields))
	for _, f := range r.fields {
		m[f.Name] = f.Value
	}
	return m
}
