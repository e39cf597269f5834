package fatslack

import (
	"fmt"
	"strings"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/sirupsen/logrus"
)

// RootNode is the index of the root directory in Tree.Nodes.
const RootNode = 0

// Node is one directory entry in a Tree. Parent and Children are indexes into Tree.Nodes.
type Node struct {
	Entry    DirEntry
	Path     string
	Parent   int
	Children []int
	Depth    int
}

// Tree is the directory structure of a volume stored as an arena of nodes.
// "." and ".." records are kept as children but never descended into.
type Tree struct {
	Nodes []Node
}

type treeBuilder struct {
	vol     *Volume
	table   *Table
	opts    Options
	log     logrus.FieldLogger
	tree    *Tree
	visited map[uint32]string
}

// BuildTree reads the whole directory structure of the volume, starting at its root cluster.
func BuildTree(vol *Volume) (*Tree, error) {
	b := &treeBuilder{
		vol:     vol,
		table:   vol.Table(),
		opts:    vol.opts,
		log:     vol.opts.logger(),
		tree:    &Tree{},
		visited: make(map[uint32]string),
	}

	root := vol.Boot.RootDirCluster
	b.tree.Nodes = append(b.tree.Nodes, Node{
		Entry: DirEntry{
			Name:         "/",
			Attr:         AttrDirectory,
			FirstCluster: root,
		},
		Path:   "/",
		Parent: -1,
	})

	if err := b.descend(RootNode); err != nil {
		return nil, err
	}
	return b.tree, nil
}

func (b *treeBuilder) descend(idx int) error {
	node := b.tree.Nodes[idx]
	cluster := node.Entry.FirstCluster

	if other, ok := b.visited[cluster]; ok {
		return checkpoint.Newf(ErrDirectoryLoop, "%s and %s both start at cluster %d", other, node.Path, cluster)
	}
	b.visited[cluster] = node.Path

	entries, err := readDirectory(b.vol, b.table, cluster)
	if err != nil {
		return checkpoint.Wrap(err, fmt.Errorf("could not read directory %s", node.Path))
	}

	for _, e := range entries {
		child := Node{
			Entry:  e,
			Path:   joinPath(node.Path, e.Name),
			Parent: idx,
			Depth:  node.Depth + 1,
		}
		childIdx := len(b.tree.Nodes)
		b.tree.Nodes = append(b.tree.Nodes, child)
		b.tree.Nodes[idx].Children = append(b.tree.Nodes[idx].Children, childIdx)

		if !e.IsDir() || e.IsDotEntry() || e.IsVolumeLabel() {
			continue
		}

		if e.FirstCluster == 0 {
			b.log.WithField("path", child.Path).Warn("directory without a first cluster")
			continue
		}

		if child.Depth > b.opts.maxDepth() {
			return checkpoint.Newf(ErrTreeTooDeep, "%s has depth %d, maximum is %d", child.Path, child.Depth, b.opts.maxDepth())
		}

		if err := b.descend(childIdx); err != nil {
			return err
		}
	}

	return nil
}

func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// readDirectory reads and decodes all records of the directory beginning at cluster.
func readDirectory(vol *Volume, table *Table, cluster uint32) ([]DirEntry, error) {
	chain, err := table.FollowChain(cluster)
	if err != nil {
		return nil, err
	}

	bs := vol.Boot
	cs := bs.ClusterSize()
	data := make([]byte, int64(len(chain))*cs)
	for i, c := range chain {
		_, err := vol.View.ReadAt(data[int64(i)*cs:int64(i+1)*cs], bs.ClusterOffset(c))
		if err != nil {
			return nil, err
		}
	}

	offsetOf := func(pos int) int64 {
		return bs.ClusterOffset(chain[int64(pos)/cs]) + int64(pos)%cs
	}
	return parseDirectory(data, offsetOf, vol.opts)
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return &t.Nodes[RootNode]
}

// Lookup finds the node of a slash separated 8.3 path. Names are compared case-insensitive.
func (t *Tree) Lookup(p string) (*Node, error) {
	idx := RootNode
	for _, name := range strings.Split(p, "/") {
		if name == "" || name == "." {
			continue
		}

		found := -1
		for _, c := range t.Nodes[idx].Children {
			child := &t.Nodes[c]
			if child.Entry.IsDotEntry() || child.Entry.IsVolumeLabel() {
				continue
			}
			if strings.EqualFold(child.Entry.Name, name) {
				found = c
				break
			}
		}
		if found < 0 {
			return nil, checkpoint.Newf(ErrNotFound, "%s", p)
		}
		idx = found
	}
	return &t.Nodes[idx], nil
}

// Walk calls fn for every node in depth first order, starting with the root.
// If fn returns an error the walk stops and returns it.
func (t *Tree) Walk(fn func(idx int, n *Node) error) error {
	if len(t.Nodes) == 0 {
		return nil
	}
	return t.walk(RootNode, fn)
}

func (t *Tree) walk(idx int, fn func(idx int, n *Node) error) error {
	if err := fn(idx, &t.Nodes[idx]); err != nil {
		return err
	}
	for _, c := range t.Nodes[idx].Children {
		if err := t.walk(c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Files returns all nodes which are regular files.
func (t *Tree) Files() []*Node {
	var files []*Node
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if i == RootNode || n.Entry.IsDir() || n.Entry.IsVolumeLabel() {
			continue
		}
		files = append(files, n)
	}
	return files
}
