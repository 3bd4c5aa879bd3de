package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is one remote business record: an insertion-ordered map of field
// name to Value. Its shape varies by object type and over time.
type Record struct {
	keys   []string
	fields map[string]Value
}

func NewRecord() *Record {
	return &Record{fields: make(map[string]Value)}
}

// RecordFromMap builds a record from a plain map. Keys are sorted so the
// result is deterministic.
func RecordFromMap(m map[string]any) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := NewRecord()
	for _, k := range keys {
		r.Set(k, FromAny(m[k]))
	}
	return r
}

// Set stores v under key, keeping the original position of existing keys.
func (r *Record) Set(key string, v Value) {
	if r.fields == nil {
		r.fields = make(map[string]Value)
	}
	if _, ok := r.fields[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.fields[key] = v
}

func (r *Record) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.fields[key]
	return v, ok
}

func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

func (r *Record) Delete(key string) {
	if _, ok := r.fields[key]; !ok {
		return
	}
	delete(r.fields, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Clone returns a shallow copy; Values are immutable so this is safe to mutate.
func (r *Record) Clone() *Record {
	out := NewRecord()
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out.Set(k, r.fields[k])
	}
	return out
}

// Map converts the record to map[string]any via Value.Interface.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out[k] = r.fields[k].Interface()
	}
	return out
}

func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	if r == nil || o == nil {
		return r.Len() == 0 && o.Len() == 0
	}
	for k, v := range r.fields {
		ov, ok := o.fields[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// ID returns the remote identifier (_id) as text.
func (r *Record) ID() string {
	v, ok := r.Get("_id")
	if !ok {
		return ""
	}
	return v.Text()
}

// ModifiedTime returns the remote last-modified time in epoch milliseconds,
// or 0 when absent or unparsable.
func (r *Record) ModifiedTime() int64 {
	v, ok := r.Get("last_modified_time")
	if !ok {
		return 0
	}
	return TimestampMillis(v)
}

// IsDeleted reports the remote soft-delete flag. Records whose life_status is
// "invalid" are treated as deleted as well.
func (r *Record) IsDeleted() bool {
	if v, ok := r.Get("is_deleted"); ok {
		if b, ok := v.BoolValue(); ok && b {
			return true
		}
		if s, ok := v.Str(); ok && strings.EqualFold(s, "true") {
			return true
		}
	}
	if v, ok := r.Get("life_status"); ok {
		if s, ok := v.Str(); ok && s == "invalid" {
			return true
		}
	}
	return false
}

// TimestampMillis reads epoch milliseconds from numbers, digit strings and
// RFC 3339 strings.
func TimestampMillis(v Value) int64 {
	if i, ok := v.Int64(); ok {
		return i
	}
	if s, ok := v.Str(); ok {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli()
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.fields[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a json object, got %v", tok)
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}
