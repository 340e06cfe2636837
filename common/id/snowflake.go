package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// Sequence generates a time-ordered int64 that is unique across nodes.
// Used for human-facing document numbers, never for row identity.
func Sequence() int64 {
	// Node 0 when Init was never called.
	_ = Init(0)
	return node.Generate().Int64()
}
