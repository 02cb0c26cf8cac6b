package record

import "fsqlite/pkg/encoding"

// PutVarint encodes v as a varint into buf and returns the number of bytes written.
func PutVarint(buf []byte, v uint64) int {
	return encoding.PutVarint(buf, v)
}

// GetVarint decodes a varint from buf and returns the value and number of bytes read.
func GetVarint(buf []byte) (uint64, int) {
	return encoding.GetVarint(buf)
}

// VarintLength returns the number of bytes needed to encode v as a varint.
func VarintLength(v uint64) int {
	return encoding.VarintLen(v)
}
