package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID generates a snowflake ID string from the process-wide node
// configured by SNOWFLAKE_NODE (default 1). The node is created once so that
// its sequence counter keeps ids unique within a millisecond. If the node
// cannot be initialized it falls back to a KSUID string.
func NewSnowflakeID() string {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			// out-of-range node id; use node 1 rather than failing every id
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}

// IsSnowflakeID reports whether s could have been produced by NewSnowflakeID.
func IsSnowflakeID(s string) bool {
	_, err := snowflake.ParseString(s)
	return err == nil && s != "" && s[0] != '-' && s[0] != '+'
}
