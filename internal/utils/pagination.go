// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses raw page and page-size values. Unparsable input takes
// the defaults (page 1, defSize); the page is at least 1 and the size is
// bounded to [1, maxSize].
func ClampPage(rawPage, rawSize string, defSize, maxSize int) (page, size int) {
	page = AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(rawSize, defSize)
	if size < 1 {
		size = 1
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}
