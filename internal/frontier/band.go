package frontier

import "github.com/JakeFAU/politecrawl/internal/crawler"

type item struct {
	entry    crawler.FrontierEntry
	priority float64
	seq      uint64
}

// before orders by priority, then by arrival so equal priorities stay FIFO.
func (it *item) before(other *item) bool {
	if it.priority != other.priority {
		return it.priority > other.priority
	}
	return it.seq < other.seq
}

// band is a heap of the entries queued at one depth.
type band []*item

func (b band) Len() int           { return len(b) }
func (b band) Less(i, j int) bool { return b[i].before(b[j]) }
func (b band) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
func (b *band) Push(x any)        { *b = append(*b, x.(*item)) }
func (b *band) Pop() any {
	old := *b
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*b = old[:n-1]
	return it
}
