package sequence

import (
	"math"
	"sync"
)

// Counter hands out sequence numbers in 1..MaxUint16-1, wrapping around.
type Counter struct {
	mutex    sync.Mutex
	sequence uint16
}

func (c *Counter) Next() uint16 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.sequence >= math.MaxUint16-1 {
		c.sequence = 0
	}
	c.sequence++
	return c.sequence
}

var global Counter

// Next returns the next process-wide sequence number.
func Next() uint16 {
	return global.Next()
}
