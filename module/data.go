package module

import "encoding/json"

// Data is the shape of a module Read: a flat mapping from subscribed node
// path to the records accumulated for it.  Record encoding depends on the
// module kind; the typed wrapper packages decode them.
type Data map[string][]json.RawMessage

// Merge appends the records of other onto d, path by path.
func (d Data) Merge(other Data) {
	for path, records := range other {
		d[path] = append(d[path], records...)
	}
}

// Count returns the number of records held for path.
func (d Data) Count(path string) int {
	return len(d[path])
}

// Total returns the number of records held across all paths.
func (d Data) Total() int {
	n := 0
	for _, records := range d {
		n += len(records)
	}
	return n
}

// Decode unmarshals record index i of path into out.
func (d Data) Decode(path string, i int, out interface{}) error {
	return json.Unmarshal(d[path][i], out)
}
