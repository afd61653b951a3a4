package eikonal

// frontier is a binary min-heap of voxel offsets keyed by their tentative
// arrival time. It tracks the heap position of every voxel so a lowered
// estimate can be sifted up in place instead of pushed twice.
type frontier struct {
	key   []float64 // arrival field shared with the solver
	items []int
	pos   []int // heap position of each voxel, -1 when absent
}

func newFrontier(key []float64) *frontier {
	pos := make([]int, len(key))
	for i := range pos {
		pos[i] = -1
	}
	return &frontier{key: key, pos: pos}
}

func (f *frontier) Len() int {
	return len(f.items)
}

func (f *frontier) contains(v int) bool {
	return f.pos[v] >= 0
}

// update inserts v or restores heap order after key[v] was lowered.
func (f *frontier) update(v int) {
	if i := f.pos[v]; i >= 0 {
		f.siftUp(i)
		return
	}
	f.items = append(f.items, v)
	f.pos[v] = len(f.items) - 1
	f.siftUp(len(f.items) - 1)
}

// pop removes and returns the voxel with the smallest key.
func (f *frontier) pop() (int, bool) {
	n := len(f.items)
	if n == 0 {
		return 0, false
	}
	root := f.items[0]
	last := f.items[n-1]
	f.items = f.items[:n-1]
	f.pos[root] = -1
	if n-1 > 0 {
		f.items[0] = last
		f.pos[last] = 0
		f.siftDown(0)
	}
	return root, true
}

func (f *frontier) less(i, j int) bool {
	return f.key[f.items[i]] < f.key[f.items[j]]
}

func (f *frontier) swap(i, j int) {
	f.items[i], f.items[j] = f.items[j], f.items[i]
	f.pos[f.items[i]] = i
	f.pos[f.items[j]] = j
}

func (f *frontier) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !f.less(i, parent) {
			return
		}
		f.swap(i, parent)
		i = parent
	}
}

func (f *frontier) siftDown(i int) {
	n := len(f.items)
	for {
		smallest := i
		l, r := 2*i+1, 2*i+2
		if l < n && f.less(l, smallest) {
			smallest = l
		}
		if r < n && f.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		f.swap(i, smallest)
		i = smallest
	}
}
