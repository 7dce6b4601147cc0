package server

import (
	"fmt"
	"sync/atomic"
)

// Generator hands out monotonically increasing connection ids.
type Generator struct {
	counter uint64
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next connection id.
func (g *Generator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("conn-%d", n)
}
