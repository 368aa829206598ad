package identity

// dsu is an index-based disjoint-set with path compression and union by
// rank. Elements are registered by string key; indexes are stable for the
// life of the structure, so callers can hold them as handles.
type dsu struct {
	index  map[string]int
	keys   []string
	parent []int
	rank   []int
}

func newDSU() *dsu {
	return &dsu{index: make(map[string]int)}
}

// add registers a key as its own singleton set and returns its index.
// Adding an existing key returns the existing index.
func (d *dsu) add(key string) int {
	if i, ok := d.index[key]; ok {
		return i
	}
	i := len(d.parent)
	d.index[key] = i
	d.keys = append(d.keys, key)
	d.parent = append(d.parent, i)
	d.rank = append(d.rank, 0)
	return i
}

// find returns the root index of the set containing i, compressing the path
// on the way up.
func (d *dsu) find(i int) int {
	for d.parent[i] != i {
		d.parent[i] = d.parent[d.parent[i]]
		i = d.parent[i]
	}
	return i
}

// findKey is find by key. The second return is false when the key was never
// registered.
func (d *dsu) findKey(key string) (int, bool) {
	i, ok := d.index[key]
	if !ok {
		return 0, false
	}
	return d.find(i), true
}

// union merges the sets containing a and b and returns the surviving root.
// The boolean is false when they were already one set.
func (d *dsu) union(a, b int) (int, bool) {
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return ra, false
	}
	if d.rank[ra] < d.rank[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	if d.rank[ra] == d.rank[rb] {
		d.rank[ra]++
	}
	return ra, true
}

// members returns the keys of every element in the same set as root. O(n);
// used only when materializing merges, not on the resolve hot path.
func (d *dsu) members(root int) []string {
	root = d.find(root)
	var out []string
	for i := range d.parent {
		if d.find(i) == root {
			out = append(out, d.keys[i])
		}
	}
	return out
}
