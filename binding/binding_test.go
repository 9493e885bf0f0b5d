package binding

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

type object struct {
	a   int
	b   *string
	pad [32]byte
}

func newObject(a int) *object {
	b := "test"
	return &object{a: a, b: &b}
}

func TestWeakValueMap(t *testing.T) {
	one, two, yes, no := newObject(1), newObject(2), newObject(3), newObject(4)
	m := New[object]()
	if _, err := m.Set(1, one); err != nil {
		t.Fatal(err)
	}
	// Chaining.
	r, err := m.Set(2, two)
	if err != nil || r != m {
		t.Fatalf("Set returned %v, %v", r, err)
	}
	r.Set(3, yes)
	r.Set(4, no)

	obj := newObject(5)
	if s, _ := m.Size(); s != 4 {
		t.Fatalf("size: %d", s)
	}
	if ok, _ := m.Has(5); ok {
		t.Fatal("has 5")
	}
	if ok, _ := m.Has("5"); ok {
		t.Fatal(`has "5"`)
	}
	if v, _ := m.Get(5); v != nil {
		t.Fatalf("get 5: %v", v)
	}

	tmp := newObject(0)
	m.Set(5, tmp)
	if s, _ := m.Size(); s != 5 {
		t.Fatalf("size: %d", s)
	}
	m.Set(5, obj)
	if s, _ := m.Size(); s != 5 {
		t.Fatalf("size after replace: %d", s)
	}
	if ok, _ := m.Has(5); !ok {
		t.Fatal("missing 5")
	}
	for k, want := range map[int]*object{1: one, 2: two, 3: yes, 4: no, 5: obj} {
		if v, _ := m.Get(k); v != want {
			t.Fatalf("get %d: %v, want %v", k, v, want)
		}
	}
	if v, _ := m.Get("5"); v != obj {
		t.Fatalf(`get "5": %v`, v)
	}
	if v, _ := m.Get(label{"5"}); v != nil {
		t.Fatalf("Stringer key aliased an unrelated entry: %v", v)
	}

	changed := newObject(10)
	m.Set(1, changed)
	if v, _ := m.Get(1); v != changed {
		t.Fatalf("get 1 after change: %v", v)
	}
	if s, _ := m.Size(); s != 5 {
		t.Fatalf("size: %d", s)
	}
	if ok, _ := m.Delete(1); !ok {
		t.Fatal("delete 1 reported nothing")
	}
	if ok, _ := m.Has(1); ok {
		t.Fatal("1 survived delete")
	}
	if v, _ := m.Get(1); v != nil {
		t.Fatalf("get 1 after delete: %v", v)
	}
	if s, _ := m.Size(); s != 4 {
		t.Fatalf("size: %d", s)
	}
	if ok, _ := m.Delete(1); ok {
		t.Fatal("second delete reported a removal")
	}

	// A nil value deletes.
	m.Set(2, nil)
	if ok, _ := m.Has(2); ok {
		t.Fatal("Set(nil) left 2 behind")
	}
	runtime.KeepAlive([]*object{one, two, yes, no, obj, tmp, changed})
}

func TestWeakValueMap_GC(t *testing.T) {
	m := New[object]()
	obj1 := newObject(1234)
	obj2 := newObject(1234)
	m.Set(1, obj1)
	m.Set(2, obj2)

	size := func() int {
		s, _ := m.Size()
		return s
	}
	collect := func(want int) {
		t.Helper()
		for range 500 {
			runtime.GC()
			if size() == want {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("size stuck at %d, want %d", size(), want)
	}

	runtime.GC()
	if v, _ := m.Get(1); v != obj1 {
		t.Fatalf("get 1: %v", v)
	}
	if v, _ := m.Get(2); v != obj2 {
		t.Fatalf("get 2: %v", v)
	}

	runtime.KeepAlive(obj2)
	obj2 = nil
	collect(1)
	if v, _ := m.Get(1); v != obj1 {
		t.Fatalf("get 1: %v", v)
	}
	if v, _ := m.Get(2); v != nil {
		t.Fatalf("get 2 after collection: %v", v)
	}

	runtime.KeepAlive(obj1)
	obj1 = nil
	collect(0)
	if v, _ := m.Get(1); v != nil {
		t.Fatalf("get 1 after collection: %v", v)
	}
}

func TestWeakValueMap_KeyConversionFailure(t *testing.T) {
	m := New[object]()
	obj := newObject(1)
	if _, err := m.Set(badText{}, obj); err == nil {
		t.Fatal("Set with an unconvertible key succeeded")
	}
	if _, err := m.Set(struct{}{}, obj); !errors.Is(err, ErrKey) {
		t.Fatalf("err = %v, want ErrKey", err)
	}
	if s, _ := m.Size(); s != 0 {
		t.Fatalf("failed Set mutated the table: size %d", s)
	}
	m.Set("k", obj)
	if ok, err := m.Delete(badText{}); ok || err == nil {
		t.Fatalf("Delete with bad key: %v, %v", ok, err)
	}
	if _, err := m.Set((*time.Time)(nil), obj); !errors.Is(err, ErrKey) {
		t.Fatalf("Set with nil *time.Time key: err = %v", err)
	}
	if _, err := m.Has(nil); !errors.Is(err, ErrKey) {
		t.Fatalf("Has(nil): err = %v", err)
	}
	if v, err := m.Get([]int{1}); v != nil || !errors.Is(err, ErrKey) {
		t.Fatalf("Get with bad key: %v, %v", v, err)
	}
	if s, _ := m.Size(); s != 1 {
		t.Fatalf("size: %d", s)
	}
	runtime.KeepAlive(obj)
}

func TestWeakValueMap_NotConstructed(t *testing.T) {
	var nilMap *WeakValueMap[object]
	var zero WeakValueMap[object]
	obj := newObject(1)
	for _, m := range []*WeakValueMap[object]{nilMap, &zero} {
		if _, err := m.Size(); !errors.Is(err, ErrNotConstructed) {
			t.Fatalf("Size: err = %v", err)
		}
		if _, err := m.Has("k"); !errors.Is(err, ErrNotConstructed) {
			t.Fatalf("Has: err = %v", err)
		}
		if _, err := m.Get("k"); !errors.Is(err, ErrNotConstructed) {
			t.Fatalf("Get: err = %v", err)
		}
		if _, err := m.Set("k", obj); !errors.Is(err, ErrNotConstructed) {
			t.Fatalf("Set: err = %v", err)
		}
		if _, err := m.Delete("k"); !errors.Is(err, ErrNotConstructed) {
			t.Fatalf("Delete: err = %v", err)
		}
	}
	runtime.KeepAlive(obj)
}
