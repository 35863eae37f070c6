// Package attrdict implements a case-insensitive string map with the
// chanid/channelid aliasing rule TeamTalk parameter sets rely on.
package attrdict

import "strings"

// Dict is a case-insensitive map from parameter name to string value.
// Reading or writing "chanid" is equivalent to reading or writing
// "channelid"; only one of the two keys is ever stored.
type Dict map[string]string

// New returns an empty Dict.
func New() Dict {
	return Dict{}
}

// FromMap builds a Dict from a plain string map, applying canonicalization
// to every key as it is copied in.
func FromMap(m map[string]string) Dict {
	d := make(Dict, len(m))
	for k, v := range m {
		d.Set(k, v)
	}
	return d
}

func canonicalKey(d Dict, key string) string {
	key = strings.ToLower(key)
	switch key {
	case "chanid":
		if _, ok := d["channelid"]; ok {
			return "channelid"
		}
	case "channelid":
		if _, ok := d["chanid"]; ok {
			return "chanid"
		}
	}
	return key
}

// Get returns the value for key, or "" with ok=false if absent.
func (d Dict) Get(key string) (string, bool) {
	k := canonicalKey(d, key)
	v, ok := d[k]
	return v, ok
}

// GetDefault returns the value for key, or def if absent.
func (d Dict) GetDefault(key, def string) string {
	if v, ok := d.Get(key); ok {
		return v
	}
	return def
}

// Set stores val under key, honoring the chanid/channelid alias: writing
// "channelid" when "chanid" is already present overwrites "chanid", and
// vice versa. Setting an empty key with val == "" is still a set; use Del
// to remove a key.
func (d Dict) Set(key, val string) {
	k := canonicalKey(d, key)
	d[k] = val
}

// Del removes key (and its alias) from d.
func (d Dict) Del(key string) {
	key = strings.ToLower(key)
	delete(d, key)
	switch key {
	case "chanid":
		delete(d, "channelid")
	case "channelid":
		delete(d, "chanid")
	}
}

// Has reports whether key (or its alias) is present.
func (d Dict) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Keys returns the set of canonical keys currently stored, unordered.
func (d Dict) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	return keys
}

// Copy returns a shallow copy of d.
func (d Dict) Copy() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Clear removes every key from d in place.
func (d Dict) Clear() {
	for k := range d {
		delete(d, k)
	}
}

// Update merges src into d, src's values winning on key collision, applying
// the same aliasing rule as Set for each key.
func (d Dict) Update(src Dict) {
	for k, v := range src {
		d.Set(k, v)
	}
}
