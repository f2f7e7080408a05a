package storage

import (
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

const fallbackFilename = "image"

// SecureFilename reduces a client supplied filename to a safe ASCII name:
// accents are decomposed and dropped, path separators and whitespace become
// underscores and anything outside [A-Za-z0-9_.-] is removed.
func SecureFilename(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	s := b.String()

	s = strings.NewReplacer("/", " ", "\\", " ").Replace(s)
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), "_")
	s = unsafeFilenameChars.ReplaceAllString(s, "")
	return strings.Trim(s, "._")
}

// GenerateUniqueFilename builds an object key under folder from the original
// filename. When contentType is allowed the extension is forced to match it.
// Keys look like folder/20240131_235959_1a2b3c4d_name.png.
func GenerateUniqueFilename(originalFilename, folder, contentType string, now time.Time) string {
	filename := SecureFilename(originalFilename)

	if ext, err := MimetypeToExtension(contentType); err == nil {
		base := strings.TrimSuffix(filename, path.Ext(filename))
		if base == "" {
			base = fallbackFilename
		}
		filename = base + "." + ext
	} else if filename == "" {
		filename = fallbackFilename
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	unique := now.UTC().Format("20060102_150405") + "_" + suffix + "_" + filename
	return path.Join(folder, unique)
}
