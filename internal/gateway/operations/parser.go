// Package operations parses the compact transformation segment of an
// optimize URL, e.g. "w_300,f_webp,embed".
//
// Parsing is permissive: keys are not checked against a vocabulary and a
// token without a key/value separator becomes a boolean flag. The image
// processor is responsible for rejecting unknown operations.
package operations

import (
	"bytes"
	"encoding/json"
	"strings"
)

// None is the segment meaning "no operations".
const None = "_"

// Value is either a string value or a boolean flag.
type Value struct {
	Str  string
	Flag bool
}

// Set is an ordered operation map. Keys keep the position of their first
// occurrence; a repeated key overwrites the earlier value.
type Set struct {
	keys   []string
	values map[string]Value
}

// Parse converts an operation segment into a Set. It never fails.
func Parse(segment string) Set {
	s := Set{values: make(map[string]Value)}
	if segment == None {
		return s
	}

	for _, token := range strings.Split(segment, ",") {
		if token == "" {
			continue
		}
		if i := strings.IndexByte(token, '_'); i > 0 {
			s.put(token[:i], Value{Str: token[i+1:]})
			continue
		}
		s.put(token, Value{Flag: true})
	}
	return s
}

func (s *Set) put(key string, v Value) {
	if s.values == nil {
		s.values = make(map[string]Value)
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = v
}

// Get returns the value stored for key.
func (s Set) Get(key string) (Value, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the keys in order.
func (s Set) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s Set) Len() int { return len(s.keys) }

// String re-encodes the set in canonical segment form.
func (s Set) String() string {
	if len(s.keys) == 0 {
		return None
	}
	parts := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		v := s.values[k]
		if v.Flag {
			parts = append(parts, k)
			continue
		}
		parts = append(parts, k+"_"+v.Str)
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the set as an object in key order, flags as true.
func (s Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		v := s.values[k]
		var vb []byte
		if v.Flag {
			vb = []byte("true")
		} else if vb, err = json.Marshal(v.Str); err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
