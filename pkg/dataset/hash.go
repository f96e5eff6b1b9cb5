package dataset

// Hash is the djb2 (xor variant) hash the die reports for its data set.
func Hash(b []byte) uint32 {
	h := uint32(5381)
	for _, c := range b {
		h = (h<<5 + h) ^ uint32(c)
	}
	return h
}
