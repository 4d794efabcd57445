package vproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildrenReturnsDirectDescendants(t *testing.T) {
	tbl := newTestTable()
	parent := tbl.Create(CreateOptions{Label: "parent"})
	child1 := tbl.Create(CreateOptions{ParentPid: parent.Pid, Label: "child1"})
	child2 := tbl.Create(CreateOptions{ParentPid: parent.Pid, Label: "child2"})
	unrelated := tbl.Create(CreateOptions{Label: "unrelated"})

	children := tbl.Children(parent.Pid)
	assert.ElementsMatch(t, []int32{child1.Pid, child2.Pid}, children)
	assert.NotContains(t, children, unrelated.Pid)
}

func TestChildrenOfLeafIsEmpty(t *testing.T) {
	tbl := newTestTable()
	leaf := tbl.Create(CreateOptions{Label: "leaf"})
	assert.Empty(t, tbl.Children(leaf.Pid))
}

func TestSignalTreeVisitsEveryDescendant(t *testing.T) {
	tbl := newTestTable()
	root := tbl.Create(CreateOptions{Label: "root"})
	mid := tbl.Create(CreateOptions{ParentPid: root.Pid, Label: "mid"})
	leaf := tbl.Create(CreateOptions{ParentPid: mid.Pid, Label: "leaf"})
	sibling := tbl.Create(CreateOptions{ParentPid: root.Pid, Label: "sibling"})

	var visited []int32
	err := tbl.SignalTree(root.Pid, func(pid int32) error {
		visited = append(visited, pid)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{root.Pid, mid.Pid, leaf.Pid, sibling.Pid}, visited)
}

func TestSignalTreeStopsAtFirstError(t *testing.T) {
	tbl := newTestTable()
	root := tbl.Create(CreateOptions{Label: "root"})
	tbl.Create(CreateOptions{ParentPid: root.Pid, Label: "child"})

	boom := assert.AnError
	err := tbl.SignalTree(root.Pid, func(pid int32) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
