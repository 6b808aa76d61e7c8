package util

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
)

// InitIDGenerator configures the snowflake node; call once at start-up with a
// node id unique per running instance (0-1023).
func InitIDGenerator(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	node = n
	return nil
}

// NewOrderNumber returns a unique, time-ordered order number.
func NewOrderNumber() string {
	nodeOnce.Do(func() {
		if node == nil {
			node, _ = snowflake.NewNode(1)
		}
	})
	return fmt.Sprintf("ORD-%s", node.Generate().Base32())
}
