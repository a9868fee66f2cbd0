package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/shared"
)

// categoryNode is one category of a subtree held in a categoryTree arena
type categoryNode struct {
	category catalog.Category
	parent   int
	path     []string
	children []string
	// excluded is set when an ancestor is not shown
	excluded bool
}

// categoryTree is a subtree in breadth-first order; nodes[0] is the root
type categoryTree struct {
	nodes []categoryNode
	index map[string]int
}

func (t *categoryTree) root() *categoryNode {
	return &t.nodes[0]
}

func (t *categoryTree) descendants() []categoryNode {
	return t.nodes[1:]
}

// ancestry returns the path from the catalog root down to c and whether
// an ancestor of c is not shown at now. A cycle or a missing parent ends
// the walk.
func ancestry(ctx context.Context, lookup catalog.EntityLookup, c *catalog.Category, now time.Time) ([]string, bool, error) {
	path := []string{c.Code}
	visited := map[string]bool{c.Code: true}
	excluded := false
	cur := c
	for cur.ParentCode != "" && !visited[cur.ParentCode] {
		parent, err := lookup.Category(ctx, cur.Catalog, cur.ParentCode)
		if errors.Is(err, shared.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("load parent %s of category %s: %w", cur.ParentCode, cur.Code, err)
		}
		visited[parent.Code] = true
		path = append([]string{parent.Code}, path...)
		if !parent.IsVisibleAt(now) {
			excluded = true
		}
		cur = parent
	}
	return path, excluded, nil
}

// visibleCodes lists the codes of the children visible at now, sorted
func visibleCodes(children []catalog.Category, now time.Time) []string {
	codes := make([]string, 0, len(children))
	for _, child := range children {
		if child.IsVisibleAt(now) {
			codes = append(codes, child.Code)
		}
	}
	return catalog.SortedUnique(codes)
}

// walkSubtree collects root and its descendants breadth first. Every child is
// walked; only the visible ones become the children content of each node.
func walkSubtree(ctx context.Context, lookup catalog.Lookup, root *catalog.Category, now time.Time) (*categoryTree, error) {
	path, excluded, err := ancestry(ctx, lookup, root, now)
	if err != nil {
		return nil, err
	}
	tree := &categoryTree{
		nodes: []categoryNode{{category: *root, parent: -1, path: path, excluded: excluded}},
		index: map[string]int{root.Code: 0},
	}

	for i := 0; i < len(tree.nodes); i++ {
		node := tree.nodes[i]
		children, err := lookup.Children(ctx, node.category.Catalog, node.category.Code)
		if err != nil {
			return nil, fmt.Errorf("load children of category %s: %w", node.category.Code, err)
		}
		hidesChildren := node.excluded || !node.category.IsVisibleAt(now)
		for _, child := range children {
			if _, seen := tree.index[child.Code]; seen {
				continue
			}
			childPath := make([]string, len(node.path), len(node.path)+1)
			copy(childPath, node.path)
			tree.index[child.Code] = len(tree.nodes)
			tree.nodes = append(tree.nodes, categoryNode{
				category: child,
				parent:   i,
				path:     append(childPath, child.Code),
				excluded: hidesChildren,
			})
		}
		tree.nodes[i].children = visibleCodes(children, now)
	}
	return tree, nil
}
