package extractor

// Assemble concatenates a result's decrypted segments in index order with no
// added framing. The second return value reports whether the bytes are the
// complete stream; a partial prefix is still returned so a caller can keep
// it and retry once more keys are disclosed.
func Assemble(r *Result) ([]byte, bool) {
	total := 0
	for _, segment := range r.Segments {
		total += len(segment)
	}

	out := make([]byte, 0, total)
	for _, segment := range r.Segments {
		out = append(out, segment...)
	}

	return out, r.Complete()
}
