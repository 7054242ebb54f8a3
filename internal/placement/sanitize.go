package placement

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.Predicate(func(r rune) bool {
	return r > unicode.MaxASCII
})))

// SanitizeFilename 将客户端文件名清洗为单个安全的路径段，
// 清洗后扩展名仍有效时保留。
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}

	ext := filepath.Ext(name)
	base := clean(strings.TrimSuffix(name, ext))
	if ext = clean(ext); ext != "" {
		ext = "." + ext
	}
	if base == "" {
		base = "file"
	}
	return base + ext
}

func sanitizeSegment(s string) string {
	s = clean(s)
	if s == "" {
		return "x"
	}
	return s
}

func clean(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err == nil {
		s = folded
	}
	s = strings.ReplaceAll(s, "/", " ")
	s = strings.Join(strings.Fields(s), "_")
	s = unsafeChars.ReplaceAllString(s, "")
	return strings.Trim(s, "._")
}
