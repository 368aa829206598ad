package identity

import (
	"reflect"
	"sort"
	"testing"
)

func TestDSUUnionFind(t *testing.T) {
	d := newDSU()
	a := d.add("a")
	b := d.add("b")
	c := d.add("c")

	if d.add("a") != a {
		t.Error("re-adding a key must return its existing index")
	}
	if d.find(a) == d.find(b) {
		t.Error("fresh elements must be distinct sets")
	}

	if _, merged := d.union(a, b); !merged {
		t.Error("expected union to merge")
	}
	if _, merged := d.union(a, b); merged {
		t.Error("expected repeat union to be a no-op")
	}
	if d.find(a) != d.find(b) {
		t.Error("a and b must share a root after union")
	}
	if d.find(a) == d.find(c) {
		t.Error("c must stay separate")
	}

	d.union(b, c)
	members := d.members(a)
	sort.Strings(members)
	if !reflect.DeepEqual(members, []string{"a", "b", "c"}) {
		t.Errorf("expected all three members, got %v", members)
	}
}

func TestDSUFindKeyUnknown(t *testing.T) {
	d := newDSU()
	if _, ok := d.findKey("missing"); ok {
		t.Error("unknown key must not resolve")
	}
}
