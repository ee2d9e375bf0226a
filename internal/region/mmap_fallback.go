//go:build !unix

package region

// mapAnon allocates Go memory when mmap is not available. A nil release
// tells New that the region ended up Go-backed.
func mapAnon(size int) ([]byte, func() error, error) {
	return make([]byte, size), nil, nil
}
