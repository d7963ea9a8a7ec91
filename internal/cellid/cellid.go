// Package cellid decodes Xenium cell identifiers into plain integers.
//
// Xenium writes cell ids as an 8-symbol token over the alphabet a..p, one
// symbol per 4-bit nibble (most significant first), followed by a dataset
// suffix: "ffkpbaba-1" is 0x55AF1010. Older exports wrote bare integers.
package cellid

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// TokenLength is the number of nibble symbols in an encoded cell id.
	TokenLength = 8

	// Unassigned is the sentinel Xenium writes for transcripts outside any cell.
	Unassigned = "UNASSIGNED"

	// unassignedNumeric is the sentinel used by integer-id exports.
	unassignedNumeric = "-1"

	alphabetBase = 'a'
	separator    = '-'
)

// DecodeError reports a cell identifier that does not match the expected shape.
type DecodeError struct {
	Code   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid cell id %q: %s", e.Code, e.Reason)
}

// IsUnassigned reports whether code is one of the unassigned sentinels.
func IsUnassigned(code string) bool {
	return code == "" || code == Unassigned || code == unassignedNumeric
}

// Decode returns the integer cell id for code. Sentinels decode to 0.
func Decode(code string) (uint32, error) {
	if IsUnassigned(code) {
		return 0, nil
	}

	if isDigits(code) {
		v, err := strconv.ParseUint(code, 10, 32)
		if err != nil {
			return 0, &DecodeError{Code: code, Reason: "integer id out of range"}
		}
		return uint32(v), nil
	}

	sep := strings.IndexByte(code, separator)
	if sep < 0 {
		return 0, &DecodeError{Code: code, Reason: "missing dataset suffix"}
	}
	token, suffix := code[:sep], code[sep+1:]
	if len(token) != TokenLength {
		return 0, &DecodeError{Code: code, Reason: fmt.Sprintf("token length %d, want %d", len(token), TokenLength)}
	}
	if !isDigits(suffix) {
		return 0, &DecodeError{Code: code, Reason: "dataset suffix must be decimal digits"}
	}

	var v uint32
	for i := 0; i < len(token); i++ {
		nibble := token[i] - alphabetBase
		if token[i] < alphabetBase || nibble > 0xF {
			return 0, &DecodeError{Code: code, Reason: fmt.Sprintf("symbol %q outside a..p", token[i])}
		}
		v = v<<4 | uint32(nibble)
	}
	return v, nil
}

// Encode is the inverse of Decode for token-form ids.
func Encode(id uint32, suffix uint) string {
	var buf [TokenLength]byte
	for i := TokenLength - 1; i >= 0; i-- {
		buf[i] = alphabetBase + byte(id&0xF)
		id >>= 4
	}
	return string(buf[:]) + string(separator) + strconv.FormatUint(uint64(suffix), 10)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
