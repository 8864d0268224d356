package memory

// CandidateSet is the ordered result of one search. Positions 0..Len()-1
// are the transient indices a reconciliation call uses to refer to a
// memory; they are only meaningful against the set that produced them.
type CandidateSet struct {
	Memories []RetrievedMemory
}

// NewCandidateSet wraps memories, copying the slice so later appends by
// the caller cannot shift indices.
func NewCandidateSet(memories []RetrievedMemory) *CandidateSet {
	cp := make([]RetrievedMemory, len(memories))
	copy(cp, memories)
	return &CandidateSet{Memories: cp}
}

// Len returns the number of candidates. A nil set is empty.
func (c *CandidateSet) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Memories)
}

// At returns the candidate at a transient index.
func (c *CandidateSet) At(index int) (RetrievedMemory, error) {
	if index < 0 || index >= c.Len() {
		return RetrievedMemory{}, &UnknownMemoryIndexError{Index: index, Size: c.Len()}
	}
	return c.Memories[index], nil
}

// Resolve maps a transient index to the durable point id.
func (c *CandidateSet) Resolve(index int) (string, error) {
	m, err := c.At(index)
	if err != nil {
		return "", err
	}
	return m.PointID, nil
}

// ResolveAll maps every index, failing on the first unknown one so that no
// partial resolution leaks out.
func (c *CandidateSet) ResolveAll(indices []int) ([]string, error) {
	ids := make([]string, 0, len(indices))
	for _, idx := range indices {
		id, err := c.Resolve(idx)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
