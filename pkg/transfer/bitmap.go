package transfer

// bitmap tracks which segment indices have been inserted.
type bitmap struct {
	bits int
	data []byte
}

func newBitmap(bits int) *bitmap {
	if bits < 0 {
		bits = 0
	}
	return &bitmap{
		bits: bits,
		data: make([]byte, (bits+7)/8),
	}
}

func (b *bitmap) set(i int) {
	if i < 0 || i >= b.bits {
		return
	}
	b.data[i/8] |= 1 << uint(i%8)
}

func (b *bitmap) get(i int) bool {
	if i < 0 || i >= b.bits {
		return false
	}
	return b.data[i/8]&(1<<uint(i%8)) != 0
}
