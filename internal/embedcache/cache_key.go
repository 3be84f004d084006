package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
)

// buildCacheKey derives a stable key from the model, the task type and the
// text; the text itself is hashed so keys stay short.
func buildCacheKey(model, taskType, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + model + ":" + taskType + ":" + hex.EncodeToString(sum[:])
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}

type lookupFunc func(key string) ([]float32, bool)

// splitMisses resolves texts from the cache and returns the positions that
// still need to be embedded.
func splitMisses(model, taskType string, texts []string, lookup lookupFunc) ([][]float32, []int, []string) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := lookup(buildCacheKey(model, taskType, text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	return out, missIdx, missTexts
}
