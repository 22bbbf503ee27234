package indexer

// Split cuts text into windows of size runes that overlap by overlap runes.
// When size <= overlap the step falls back to size so the loop always
// advances. Empty text yields no chunks.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
