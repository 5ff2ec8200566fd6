// Package upload checks that an uploaded file is admissible before it is parsed.
package upload

import (
	"fmt"
	"strings"

	"github.com/hed1ad/csvguard/pkg/config"
	"github.com/hed1ad/csvguard/pkg/errorutil"
)

// RawUpload is the untrusted input handed over by the surrounding service.
type RawUpload struct {
	Data         []byte
	Filename     string
	DeclaredSize int64
}

// Accepted is an upload that passed validation. Name is the canonical bare
// filename; the declared filename must not be used past this point.
type Accepted struct {
	Name string
	Data []byte
	Size int64
}

// Validate checks filename, extension, size and emptiness. It never looks at
// the content bytes beyond their length.
func Validate(u RawUpload, limits config.Limits) (Accepted, error) {
	name := CanonicalName(u.Filename)
	if name == "" {
		return Accepted{}, errorutil.New(errorutil.InvalidFileType, "invalid filename")
	}
	if !hasAllowedExtension(name, limits.AllowedExtensions) {
		return Accepted{}, errorutil.New(errorutil.InvalidFileType,
			"invalid file type, allowed: %s", strings.Join(limits.AllowedExtensions, ", "))
	}

	actual := int64(len(u.Data))
	if u.DeclaredSize > limits.MaxFileSizeBytes || actual > limits.MaxFileSizeBytes {
		return Accepted{}, errorutil.New(errorutil.FileTooLarge,
			"file too large, maximum size: %s", formatBytes(limits.MaxFileSizeBytes))
	}
	if actual == 0 || u.DeclaredSize == 0 {
		return Accepted{}, errorutil.New(errorutil.EmptyFile, "file is empty")
	}

	return Accepted{Name: name, Data: u.Data, Size: actual}, nil
}

// CanonicalName reduces a client-supplied filename to a bare name: directory
// components are dropped and anything outside [A-Za-z0-9_ .-] becomes '_'.
// It returns "" when nothing usable remains.
func CanonicalName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	var b strings.Builder
	for _, r := range filename {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == ' ', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" || strings.Trim(name, ".") == "" {
		return ""
	}
	return name
}

func hasAllowedExtension(name string, allowed []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowed {
		ext = strings.ToLower(ext)
		// ".csv" alone is a hidden file with no stem, not a CSV.
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return true
		}
	}
	return false
}

func formatBytes(n int64) string {
	const mb = 1 << 20
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
