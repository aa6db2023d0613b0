package utils

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// HexToBytes32 converts a hex string (with or without 0x prefix) to a 32-byte array.
// Short input is left-padded with zeros.
func HexToBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	return out, hexToFixed(hexStr, out[:])
}

// HexToBytes20 converts a hex string (with or without 0x prefix) to a 20-byte array.
// Short input is left-padded with zeros.
func HexToBytes20(hexStr string) ([20]byte, error) {
	var out [20]byte
	return out, hexToFixed(hexStr, out[:])
}

func hexToFixed(hexStr string, dst []byte) error {
	hexStr = strings.TrimPrefix(hexStr, "0x")
	width := 2 * len(dst)
	if len(hexStr) > width {
		return fmt.Errorf("hex value has %d digits, want at most %d", len(hexStr), width)
	}
	hexStr = strings.Repeat("0", width-len(hexStr)) + hexStr
	if _, err := hex.Decode(dst, []byte(hexStr)); err != nil {
		return err
	}
	return nil
}

// QuoteArgs joins args into a single command line that a POSIX shell splits
// back into the same arguments.
func QuoteArgs(args []string) string {
	return shellquote.Join(args...)
}
