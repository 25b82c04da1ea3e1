package utils

// Chunk splits a slice into consecutive chunks of at most size elements.
// Useful for keeping multi-row INSERT statements under the driver's parameter limit.
func Chunk[T any](slice []T, size int) [][]T {
	if size <= 0 || len(slice) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(slice)+size-1)/size)
	for size < len(slice) {
		slice, chunks = slice[size:], append(chunks, slice[:size:size])
	}
	return append(chunks, slice)
}
