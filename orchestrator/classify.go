package orchestrator

import "strings"

var extToLanguage = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rs":   "rust",
	".c":    "cpp",
	".h":    "cpp",
	".hpp":  "cpp",
	".cc":   "cpp",
	".cpp":  "cpp",
	".md":   "markdown",
	".mdx":  "markdown",
}

var docExtensions = map[string]bool{
	".md":   true,
	".mdx":  true,
	".txt":  true,
	".rst":  true,
	".adoc": true,
}

// detectLanguage maps a file's extension to the language tag the slicer's
// code-strategy table and markup strategy expect. Unknown extensions fall
// back to "" so the slicer dispatches to its generic fixed-window strategy.
func detectLanguage(path string) string {
	ext := extOf(path)
	if lang, ok := extToLanguage[ext]; ok {
		return lang
	}
	return ""
}

// classifyPathWeight buckets a path into "code" or "docs" and returns the
// configured weight for that bucket, defaulting to the code weight (or 1)
// for anything not recognized as documentation.
func classifyPathWeight(path string, weights map[string]int) int {
	bucket := "code"
	if docExtensions[extOf(path)] {
		bucket = "docs"
	}
	if w, ok := weights[bucket]; ok {
		return w
	}
	return 1
}

// sliceFamily derives the router's route-table key from a span's slice
// type: syntactically bounded code spans route as "code", markup sections
// as "docs", anything else as "generic".
func sliceFamily(sliceType string) string {
	switch sliceType {
	case "function", "class":
		return "code"
	case "section":
		return "docs"
	default:
		return "generic"
	}
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}
