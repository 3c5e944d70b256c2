package upload

import "strings"

// maxFilenameLength caps the stored display filename.
const maxFilenameLength = 255

// SanitizeFilename reduces a client-declared filename to a safe display
// attribute. The result is never used for path construction; on-disk names
// derive from upload and clip identifiers only.
//
// Path separators, parent references, NUL bytes, and control characters are
// stripped, and the length is capped. An empty result falls back to "file".
func SanitizeFilename(name string) string {
	// Keep only the final path element, whatever separator convention the
	// client used.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ReplaceAll(name, "..", "")

	var b strings.Builder
	for _, r := range name {
		if r == 0 || r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimSpace(b.String())

	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	if name == "" || name == "." {
		name = "file"
	}
	return name
}
