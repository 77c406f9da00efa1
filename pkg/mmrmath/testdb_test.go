package mmrmath

// memStore is a slice-backed NodeAppender/NodeGetter used only by this
// package's own tests; real storage is provided by pkg/mmrstore.
type memStore struct {
	nodes [][]byte
}

func (s *memStore) Get(i uint64) ([]byte, error) {
	return s.nodes[i], nil
}

func (s *memStore) Append(value []byte) (uint64, error) {
	s.nodes = append(s.nodes, value)
	return uint64(len(s.nodes) - 1), nil
}
