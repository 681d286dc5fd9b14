package catalog

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
)

// IDGenerator hands out timestamp-ordered ids. Two processes sharing a node
// number can still collide; callers that run several admin sessions should
// give each a distinct node.
type IDGenerator struct {
	mu   sync.Mutex
	node *snowflake.Node
}

func NewIDGenerator(node int64) (*IDGenerator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, errors.Wrapf(err, "create id node %d", node)
	}
	return &IDGenerator{node: n}, nil
}

func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node.Generate().String()
}
