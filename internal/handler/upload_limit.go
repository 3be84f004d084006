package handler

import "strconv"

// formatUploadLimit renders a byte limit for error messages, in KB below one
// megabyte.
func formatUploadLimit(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
	)
	switch {
	case bytes <= 0:
		return "0KB"
	case bytes < mb:
		return strconv.FormatInt(max(bytes/kb, 1), 10) + "KB"
	default:
		return strconv.FormatInt(bytes/mb, 10) + "MB"
	}
}
