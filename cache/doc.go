// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package cache provides BoundedCache, a generic LRU cache bounded by the total
accounted size of its entries rather than by entry count.

# Accounting

Each entry's size is reported by a caller-supplied Sizer. After every Set the
cache evicts least recently used entries, one at a time, until the sum of sizes
is within Config.MaxBytes. An entry larger than the whole budget is rejected
with a CACHE_ENTRY_TOO_LARGE error.

# Recency

Get and Set both mark an entry most recently used. Recency is a strict order
(list position), so there are no ties: of two entries, the one touched last
survives longer.

# Usage

	c, err := cache.New[string, []string](cache.Config{MaxBytes: 1 << 20}, sizeOfIDs)
	if err != nil {
		return err
	}
	_ = c.Set("desc:a", []string{"b", "c"})
	ids, ok := c.Get("desc:a")
*/
package cache
