package astipsi

const (
	crc32Seed       = uint32(0xffffffff)
	crc32Polynomial = uint32(0x04c11db7)
)

// CalcCRC32 computes the MPEG-2 CRC32 of a section
// The last 4 bytes are assumed to hold the CRC32 field and are left out, which means the section can be passed as is,
// with a placeholder in place of its CRC32. It returns 0 if bs is shorter than 4 bytes.
// Bits are processed MSB first without reflection nor final XOR, which makes it different from the Ethernet/zlib CRC-32.
func CalcCRC32(bs []byte) uint32 {
	if len(bs) < 4 {
		return 0
	}
	c := crc32Seed
	for _, b := range bs[:len(bs)-4] {
		for i := 0; i < 8; i++ {
			if (c&0x80000000 != 0) != (b&0x80 != 0) {
				c = (c << 1) ^ crc32Polynomial
			} else {
				c <<= 1
			}
			b <<= 1
		}
	}
	return c
}

// tableCRC32 is the byte-at-a-time version of the bit serial loop above
var tableCRC32 = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = (c << 1) ^ crc32Polynomial
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return
}()

// computeCRC32 computes the CRC32 of the whole slice, CRC32 field excluded
// It is used by writers which have not appended the CRC32 yet
func computeCRC32(bs []byte) uint32 {
	return updateCRC32(crc32Seed, bs)
}

func updateCRC32(c uint32, bs []byte) uint32 {
	for _, b := range bs {
		c = (c << 8) ^ tableCRC32[byte(c>>24)^b]
	}
	return c
}
