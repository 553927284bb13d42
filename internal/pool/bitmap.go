package pool

// bitmap is a fixed-size set of bits indexed from 0.
type bitmap []uint64

func newBitmap(bits uint64) bitmap {
	return make(bitmap, (bits+63)/64)
}

func (b bitmap) get(i uint64) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

func (b bitmap) set(i uint64) {
	b[i/64] |= 1 << (i % 64)
}
