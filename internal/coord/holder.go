package coord

import (
	"sync/atomic"

	"github.com/abelbrown/storyline/internal/clustering"
)

// Holder publishes the current index. Readers never see a partially built
// index; a rebuild swaps the whole value.
type Holder struct {
	idx atomic.Pointer[clustering.Index]
}

// Load returns the current index, or nil before the first build.
func (h *Holder) Load() *clustering.Index {
	return h.idx.Load()
}

func (h *Holder) Store(idx *clustering.Index) {
	h.idx.Store(idx)
}
