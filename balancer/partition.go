package balancer

import "fmt"

// A Task is a group of tiles that a single worker renders in one go.
type Task struct {
	ID      int
	TileIDs []uint32
}

// Split tile ids into at most numTasks contiguous tasks of nearly equal size.
// When the ids do not divide evenly the leftover tiles are handed to the
// first tasks, one each. No task is ever empty.
//
// Every tile may appear only once; duplicates are a caller bug and cause a
// panic.
func Partition(ids []uint32, numTasks int) []Task {
	seen := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			panic(fmt.Errorf("%w: tile %d", ErrDuplicateTile, id))
		}
		seen[id] = struct{}{}
	}

	if len(ids) == 0 {
		return nil
	}
	if numTasks < 1 {
		numTasks = 1
	}
	if numTasks > len(ids) {
		numTasks = len(ids)
	}

	base := len(ids) / numTasks
	extra := len(ids) - base*numTasks

	tasks := make([]Task, numTasks)
	offset := 0
	for i := range tasks {
		n := base
		if i < extra {
			n++
		}
		tasks[i] = Task{ID: i, TileIDs: ids[offset : offset+n]}
		offset += n
	}
	return tasks
}
