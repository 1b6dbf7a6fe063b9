package migrate

import (
	"container/heap"

	"github.com/easeaico/adk-compliance-agent/internal/legacy"
)

// processingOrder returns record indices in the order they must be
// migrated: every base record in source order, then every revision after
// its parent. Revisions are ordered with Kahn's algorithm over legacy ids,
// breaking ties by source position, so chains of any depth resolve.
// Revisions whose parent is absent from the source are ready at once.
// When only cycles remain, the lowest-indexed member of the cycle reached
// from the lowest remaining revision is released, so descendants of a
// cycle still follow their parents.
func processingOrder(records []legacy.Record) []int {
	firstIndex := make(map[string]int, len(records))
	for i, r := range records {
		if r.ID == "" {
			continue
		}
		if _, ok := firstIndex[string(r.ID)]; !ok {
			firstIndex[string(r.ID)] = i
		}
	}

	out := make([]int, 0, len(records))
	indeg := make([]int, len(records))
	parent := make(map[int]int)
	outgoing := make(map[int][]int)
	var revisions []int

	for i, r := range records {
		if !r.IsRevision() {
			out = append(out, i)
			continue
		}
		revisions = append(revisions, i)
		p, ok := firstIndex[string(r.RevisionOf)]
		if ok && p != i && records[p].IsRevision() {
			parent[i] = p
			outgoing[p] = append(outgoing[p], i)
			indeg[i]++
		}
	}

	ready := &intMinHeap{}
	heap.Init(ready)
	for _, i := range revisions {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	done := make([]bool, len(records))
	next := 0
	for {
		for ready.Len() > 0 {
			n := heap.Pop(ready).(int)
			done[n] = true
			out = append(out, n)
			for _, m := range outgoing[n] {
				indeg[m]--
				if indeg[m] == 0 {
					heap.Push(ready, m)
				}
			}
		}

		for next < len(revisions) && done[revisions[next]] {
			next++
		}
		if next == len(revisions) {
			break
		}
		c := cycleHead(revisions[next], parent)
		indeg[c] = 0
		heap.Push(ready, c)
	}
	return out
}

// cycleHead follows parent links from start until one repeats and returns
// the lowest index on the loop. Every unprocessed revision still has an
// unprocessed parent, so the walk always ends in a cycle.
func cycleHead(start int, parent map[int]int) int {
	seen := map[int]bool{}
	n := start
	for !seen[n] {
		seen[n] = true
		n = parent[n]
	}
	head := n
	for m := parent[n]; m != n; m = parent[m] {
		head = min(head, m)
	}
	return head
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
