// Package id mints the process-wide Snowflake identifiers behind event IDs.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init configures the Snowflake node. The server and notifier binaries pass
// distinct node IDs so both can mint IDs side by side without collisions.
// Calls after the first are no-ops.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns the next time-ordered identifier. Event envelopes carry it as
// "evt-<id>".
func New() int64 {
	return node.Generate().Int64()
}
