package model

// Record is one row of a Model. PK is zero until the record is saved.
// Foreign key values hold the related pk as int64.
type Record struct {
	Model  *Model
	PK     int64
	Values map[string]any
	// Extra carries computed values that encoders emit as-is.
	Extra map[string]any
}

// Saved reports whether the record has a primary key.
func (r *Record) Saved() bool { return r.PK != 0 }

// Get returns a field value; "id" yields the pk or nil when unsaved.
func (r *Record) Get(name string) any {
	if name == PKName {
		if r.PK == 0 {
			return nil
		}
		return r.PK
	}
	return r.Values[name]
}

// Set assigns a field value.
func (r *Record) Set(name string, value any) {
	if name == PKName {
		if pk, ok := value.(int64); ok {
			r.PK = pk
		}
		return
	}
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	r.Values[name] = value
}

// Clone returns a deep enough copy: maps are duplicated, values shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{Model: r.Model, PK: r.PK}
	if r.Values != nil {
		out.Values = make(map[string]any, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	if r.Extra != nil {
		out.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
