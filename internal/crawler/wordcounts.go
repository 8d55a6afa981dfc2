package crawler

import "container/heap"

// MergeWordCounts adds every count in src into dst.
func MergeWordCounts(dst, src map[string]int) {
	for word, n := range src {
		dst[word] += n
	}
}

// ranksBefore orders words by count descending, then length descending, then
// lexicographically ascending.
func ranksBefore(a, b WordCount) bool {
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	if len(a.Word) != len(b.Word) {
		return len(a.Word) > len(b.Word)
	}
	return a.Word < b.Word
}

// TopK returns at most k entries of counts in rank order.
func TopK(counts map[string]int, k int) []WordCount {
	if k <= 0 || len(counts) == 0 {
		return []WordCount{}
	}
	h := &rankHeap{}
	for word, n := range counts {
		wc := WordCount{Word: word, Count: n}
		if h.Len() < k {
			heap.Push(h, wc)
			continue
		}
		if ranksBefore(wc, (*h)[0]) {
			(*h)[0] = wc
			heap.Fix(h, 0)
		}
	}
	out := make([]WordCount, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(WordCount)
	}
	return out
}

// rankHeap keeps the lowest ranked entry at the root.
type rankHeap []WordCount

func (h rankHeap) Len() int           { return len(h) }
func (h rankHeap) Less(i, j int) bool { return ranksBefore(h[j], h[i]) }
func (h rankHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *rankHeap) Push(x any) { *h = append(*h, x.(WordCount)) }

func (h *rankHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
