package store

import "strings"

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func sameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
