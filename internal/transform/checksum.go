package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Checksum computes a deterministic hash over a row's value vector. The
// encoding tags each value with its type so that the string "true" and the
// boolean true cannot collide, and separates values with a 0x1f unit
// separator so concatenation is unambiguous.
//
// The checksum is the pipeline's no-op detector: two value vectors hash
// equal exactly when writing them would leave the destination unchanged.
func Checksum(values []CellValue) string {
	h := sha256.New()
	for _, v := range values {
		switch val := v.(type) {
		case string:
			h.Write([]byte{'s'})
			h.Write([]byte(val))
		case float64:
			h.Write([]byte{'n'})
			h.Write([]byte(strconv.FormatFloat(val, 'f', -1, 64)))
		case bool:
			h.Write([]byte{'b'})
			h.Write([]byte(strconv.FormatBool(val)))
		default:
			h.Write([]byte{'s'})
			h.Write([]byte(CellString(v)))
		}
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ChecksumStrings hashes a vector of already-rendered cell strings. Used on
// the read-back path where the destination only returns strings.
func ChecksumStrings(values []string) string {
	cells := make([]CellValue, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return Checksum(cells)
}
