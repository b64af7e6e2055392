package runtime

import (
	"sort"
	"sync"
)

// TaskQueue orders tasks by priority (higher first, FIFO among equals) and
// tracks which task ids have finished so dependencies can be resolved.
type TaskQueue struct {
	mu        sync.Mutex
	tasks     []*Task
	seq       map[string]int
	next      int
	completed map[string]struct{}
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		seq:       map[string]int{},
		completed: map[string]struct{}{},
	}
}

// Enqueue inserts t before the first task with a strictly lower priority.
// Pending tasks become queued.
func (q *TaskQueue) Enqueue(t *Task) {
	if t == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.Status == "" || t.Status == TaskPending {
		t.Status = TaskQueued
	}
	q.seq[t.ID] = q.next
	q.next++
	at := len(q.tasks)
	for i, cur := range q.tasks {
		if t.Priority > cur.Priority {
			at = i
			break
		}
	}
	q.tasks = append(q.tasks, nil)
	copy(q.tasks[at+1:], q.tasks[at:])
	q.tasks[at] = t
}

func (q *TaskQueue) EnqueueAll(tasks []*Task) {
	for _, t := range tasks {
		q.Enqueue(t)
	}
}

// Dequeue removes and returns the highest-priority task whose dependencies
// have all completed.
func (q *TaskQueue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if q.readyLocked(t) {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return t, true
		}
	}
	return nil, false
}

func (q *TaskQueue) readyLocked(t *Task) bool {
	if t.Status != TaskQueued && t.Status != TaskPending {
		return false
	}
	if _, finished := q.completed[t.ID]; finished {
		return false
	}
	return dependenciesMet(t, q.completed)
}

func dependenciesMet(t *Task, done map[string]struct{}) bool {
	for _, dep := range t.Dependencies {
		if _, ok := done[dep]; !ok {
			return false
		}
	}
	return true
}

// ReadyTasks returns, in priority order, every waiting task that could run now.
func (q *TaskQueue) ReadyTasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []*Task{}
	for _, t := range q.tasks {
		if q.readyLocked(t) {
			out = append(out, t)
		}
	}
	return out
}

// ParallelGroups layers the queued tasks in insertion order. Completed ids
// count as satisfied dependencies.
func (q *TaskQueue) ParallelGroups() [][]*Task {
	q.mu.Lock()
	ordered := append([]*Task(nil), q.tasks...)
	sort.SliceStable(ordered, func(i, j int) bool { return q.seq[ordered[i].ID] < q.seq[ordered[j].ID] })
	done := make(map[string]struct{}, len(q.completed))
	for id := range q.completed {
		done[id] = struct{}{}
	}
	q.mu.Unlock()
	return partitionGroups(ordered, done)
}

// MarkCompleted records id as finished. A finished task is no longer
// returned by Dequeue or ReadyTasks.
func (q *TaskQueue) MarkCompleted(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[id] = struct{}{}
}

func (q *TaskQueue) UpdateStatus(id string, status TaskStatus) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.ID == id {
			t.Status = status
			return true
		}
	}
	return false
}

func (q *TaskQueue) ByStatus(status TaskStatus) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []*Task{}
	for _, t := range q.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func (q *TaskQueue) Tasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Task(nil), q.tasks...)
}

func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *TaskQueue) Empty() bool { return q.Len() == 0 }

func (q *TaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
	q.seq = map[string]int{}
	q.next = 0
	q.completed = map[string]struct{}{}
}

// PartitionGroups layers tasks so every task lands in the first group after
// all of its dependencies. Order inside a group follows the input order.
// If no task can be placed in a round (a cycle or a dependency outside the
// set) the leftovers form one final group.
func PartitionGroups(tasks []*Task) [][]*Task {
	return partitionGroups(tasks, nil)
}

func partitionGroups(tasks []*Task, done map[string]struct{}) [][]*Task {
	resolved := make(map[string]struct{}, len(tasks)+len(done))
	for id := range done {
		resolved[id] = struct{}{}
	}
	placed := make(map[*Task]struct{}, len(tasks))
	groups := [][]*Task{}
	for len(placed) < len(tasks) {
		group := []*Task{}
		for _, t := range tasks {
			if _, ok := placed[t]; ok {
				continue
			}
			if dependenciesMet(t, resolved) {
				group = append(group, t)
			}
		}
		if len(group) == 0 {
			for _, t := range tasks {
				if _, ok := placed[t]; !ok {
					group = append(group, t)
				}
			}
			groups = append(groups, group)
			break
		}
		for _, t := range group {
			placed[t] = struct{}{}
			resolved[t.ID] = struct{}{}
		}
		groups = append(groups, group)
	}
	return groups
}
