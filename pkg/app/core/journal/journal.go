// Package journal records undo closures so that a group of in-memory mutations
// can be rolled back to an earlier revision.
//
// Every component that takes part in a marketplace operation (offer table, fee
// config, simulated ledgers) appends an undo entry right after it mutates. The
// engine takes a snapshot when an operation starts and reverts to it if the
// operation fails at any point, including inside a re-entrant call.
package journal

import (
	"fmt"
	"sort"
)

type revision struct {
	id    int
	index int
}

// Journal is not safe for concurrent use. The marketplace runs one operation at
// a time, so it is owned by whoever drives the engine.
type Journal struct {
	undo      []func()
	revisions []revision
	nextID    int
}

func New() *Journal {
	return &Journal{}
}

// Append records the closure that reverts a mutation that was just applied.
func (j *Journal) Append(undo func()) {
	j.undo = append(j.undo, undo)
}

// Snapshot returns a revision id that RevertToSnapshot can return to.
func (j *Journal) Snapshot() int {
	id := j.nextID
	j.nextID++
	j.revisions = append(j.revisions, revision{id: id, index: len(j.undo)})
	return id
}

// RevertToSnapshot undoes every mutation recorded after the snapshot, newest
// first, and forgets all revisions taken after it.
func (j *Journal) RevertToSnapshot(id int) {
	idx := sort.Search(len(j.revisions), func(i int) bool {
		return j.revisions[i].id >= id
	})
	if idx == len(j.revisions) || j.revisions[idx].id != id {
		panic(fmt.Sprintf("journal: revision id %d cannot be reverted", id))
	}
	target := j.revisions[idx].index
	for i := len(j.undo) - 1; i >= target; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:target]
	j.revisions = j.revisions[:idx]
}

// Reset drops all undo entries and revisions. Called once the outermost
// operation has committed.
func (j *Journal) Reset() {
	j.undo = nil
	j.revisions = j.revisions[:0]
}

// Len returns the number of pending undo entries.
func (j *Journal) Len() int {
	return len(j.undo)
}

// Record appends undo to j when j is non-nil. Components that may run without
// a journal (tests, read-only tools) use it instead of Append.
func Record(j *Journal, undo func()) {
	if j != nil {
		j.Append(undo)
	}
}
