package instrument

import (
	"go/ast"
)

// IDCounter hands out node ids. Ids are unique within one counter; a fresh
// counter starts at 1.
//
// Thread Safety: NOT thread-safe. Use one counter per rewrite, or share one
// across sequential rewrites when ids must not overlap.
type IDCounter struct {
	next int
}

// NewIDCounter returns a counter whose first id is start (1 if start < 1).
func NewIDCounter(start int) *IDCounter {
	if start < 1 {
		start = 1
	}
	return &IDCounter{next: start}
}

// Next returns a fresh id.
func (c *IDCounter) Next() int {
	id := c.next
	c.next++
	return id
}

// Peek returns the id Next would return.
func (c *IDCounter) Peek() int {
	return c.next
}

// assignIDs numbers every node of file in pre-order.
func assignIDs(file *ast.File, counter *IDCounter) map[ast.Node]int {
	ids := make(map[ast.Node]int)
	ast.Inspect(file, func(n ast.Node) bool {
		if n != nil {
			ids[n] = counter.Next()
		}
		return true
	})
	return ids
}
