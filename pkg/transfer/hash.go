package transfer

import "regexp"

var txHashPattern = regexp.MustCompile(`0x[0-9a-fA-F]{64}`)

// ExtractTxHash returns the first 32-byte hex hash found in s, or "".
func ExtractTxHash(s string) string {
	if s == "" {
		return ""
	}
	return txHashPattern.FindString(s)
}

// IsTxHash reports whether s is exactly a 0x-prefixed 32-byte hex hash.
func IsTxHash(s string) bool {
	return len(s) == 66 && txHashPattern.MatchString(s)
}
