package datadog

// stringTable assigns a stable index to every distinct string seen while
// encoding one batch. Indices are sequential from 0 in first-seen order,
// which is also the order drain emits. One instance per encode, used
// synchronously; never shared between batches.
type stringTable struct {
	indices map[string]uint32
	strings []string
}

func newStringTable() *stringTable {
	return &stringTable{indices: make(map[string]uint32)}
}

// intern returns the index assigned to s, assigning the next free one on
// first sight.
func (st *stringTable) intern(s string) uint32 {
	if idx, ok := st.indices[s]; ok {
		return idx
	}
	idx := uint32(len(st.strings))
	st.indices[s] = idx
	st.strings = append(st.strings, s)
	return idx
}

// drain returns the table in assignment order and empties the interner.
// Every index handed out by intern points into the returned slice. Must be
// called once, after the last record of the batch has been encoded.
func (st *stringTable) drain() []string {
	s := st.strings
	st.strings = nil
	st.indices = nil
	return s
}
