// Package idgen hands out snowflake IDs for users, orders and trades.
// Snowflake IDs grow with time, so ordering by ID matches creation order
// within one node.
package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the node ID (0-1023). It may be called again to switch nodes.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// Next returns a new ID, falling back to node 0 if Init was never called.
func Next() int64 {
	mu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(0)
	}
	n := node
	mu.Unlock()
	return n.Generate().Int64()
}
