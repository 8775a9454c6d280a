package gcm

// LegacyBatches partitions tokens the way earlier releases did, and is kept
// for delivery parity. A list that fits in one batch is sent whole. Longer
// lists produce floor(len/size) batches, each starting one element past the
// zero-based boundary, so the first token is never sent and a trailing
// remainder shorter than size is dropped.
func LegacyBatches(tokens []string, size int) [][]string {
	if len(tokens) <= size {
		return [][]string{tokens}
	}

	count := len(tokens) / size
	batches := make([][]string, 0, count)
	for i := 0; i < count; i++ {
		start := i*size + 1
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		batches = append(batches, tokens[start:end])
	}
	return batches
}

// Batches partitions tokens into consecutive chunks of at most size entries.
func Batches(tokens []string, size int) [][]string {
	if len(tokens) == 0 {
		return [][]string{tokens}
	}

	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}
