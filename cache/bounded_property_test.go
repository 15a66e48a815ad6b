package cache

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// Property: after any sequence of operations the accounted size equals the sum
// of live entries, never exceeds the budget, and eviction follows access order
// as tracked by a simple reference model.
func TestProperty_BoundedCache_MatchesLRUModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		budget := rapid.Int64Range(1, 200).Draw(rt, "budget")
		c, err := New[string, []byte](Config{MaxBytes: budget}, byteSizer)
		if err != nil {
			rt.Fatalf("new: %v", err)
		}

		type entry struct {
			key  string
			size int64
		}
		var model []entry // front = most recent

		touch := func(key string) (entry, bool) {
			for i, e := range model {
				if e.key == key {
					model = append(model[:i], model[i+1:]...)
					return e, true
				}
			}
			return entry{}, false
		}
		modelSize := func() int64 {
			var s int64
			for _, e := range model {
				s += e.size
			}
			return s
		}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			key := fmt.Sprintf("k%d", rapid.IntRange(0, 6).Draw(rt, "key"))
			switch rapid.SampledFrom([]string{"get", "set", "delete"}).Draw(rt, "op") {
			case "get":
				_, got := c.Get(key)
				e, want := touch(key)
				if want {
					model = append([]entry{e}, model...)
				}
				if got != want {
					rt.Fatalf("get %s: got present=%v, model present=%v", key, got, want)
				}
			case "set":
				size := rapid.Int64Range(0, 250).Draw(rt, "size")
				err := c.Set(key, make([]byte, size))
				if size > budget {
					if err == nil {
						rt.Fatalf("set %s of %d bytes over budget %d succeeded", key, size, budget)
					}
					continue
				}
				if err != nil {
					rt.Fatalf("set: %v", err)
				}
				touch(key)
				model = append([]entry{{key: key, size: size}}, model...)
				for modelSize() > budget {
					model = model[:len(model)-1]
				}
			case "delete":
				c.Delete(key)
				touch(key)
			}

			stats := c.Statistics()
			if stats.CurrentSize > budget {
				rt.Fatalf("size %d exceeds budget %d", stats.CurrentSize, budget)
			}
			if stats.CurrentSize != modelSize() {
				rt.Fatalf("size %d, model size %d", stats.CurrentSize, modelSize())
			}
			keys := c.Keys()
			if len(keys) != len(model) {
				rt.Fatalf("keys %v, model %v", keys, model)
			}
			for j, k := range keys {
				if model[j].key != k {
					rt.Fatalf("order %v, model %v", keys, model)
				}
			}
		}
	})
}
