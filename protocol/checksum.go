package protocol

import "fmt"

// Checksum computes the integrity field appended to every frame body.
// The exact algorithm differs between device generations, so it is
// selected per link rather than fixed.
type Checksum interface {
	// Name is the configuration name ("crc16", "xor8").
	Name() string
	// Size is the number of trailer bytes.
	Size() int
	// Append appends the checksum of data to dst.
	Append(dst, data []byte) []byte
}

// CRC16 calculates the CCITT-style CRC16 used by serial motion controllers.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b = b ^ uint8(crc&0xFF)
		b = b ^ (b << 4)
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// XOR8 folds data into a single byte.
func XOR8(data []byte) uint8 {
	var x uint8
	for _, b := range data {
		x ^= b
	}
	return x
}

type crc16Checksum struct{}

func (crc16Checksum) Name() string { return "crc16" }
func (crc16Checksum) Size() int    { return 2 }
func (crc16Checksum) Append(dst, data []byte) []byte {
	crc := CRC16(data)
	return append(dst, uint8(crc>>8), uint8(crc))
}

type xor8Checksum struct{}

func (xor8Checksum) Name() string { return "xor8" }
func (xor8Checksum) Size() int    { return 1 }
func (xor8Checksum) Append(dst, data []byte) []byte {
	return append(dst, XOR8(data))
}

// Available checksums
var (
	ChecksumCRC16 Checksum = crc16Checksum{}
	ChecksumXOR8  Checksum = xor8Checksum{}
)

// LookupChecksum returns the checksum registered under name.
func LookupChecksum(name string) (Checksum, error) {
	switch name {
	case "", "crc16":
		return ChecksumCRC16, nil
	case "xor8":
		return ChecksumXOR8, nil
	}
	return nil, fmt.Errorf("unknown checksum %q", name)
}
