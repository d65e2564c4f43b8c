// Package crc8 implements the CRC-8 variant (polynomial 0x31, zero init,
// no reflection) used to checksum register transfers between the UPS
// firmware and the host.
package crc8

const polynome = 0x31

// Add folds one byte into a running checksum.
func Add(crc, b byte) byte {
	for bit := 0; bit < 8; bit++ {
		if (b^crc)&0x80 != 0 {
			crc = crc<<1 ^ polynome
		} else {
			crc <<= 1
		}
		b <<= 1
	}
	return crc
}

// Sum checksums a register address and its payload bytes. The register
// address seeds the sum so a reply cannot be mistaken for another
// register's.
func Sum(reg byte, data []byte) byte {
	crc := Add(0, reg)
	for _, b := range data {
		crc = Add(crc, b)
	}
	return crc
}
