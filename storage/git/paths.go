package git

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

const defaultExtension = "bin"

var knownExtensions = map[string]string{
	"text/html":        "html",
	"text/markdown":    "md",
	"text/plain":       "txt",
	"application/pdf":  "pdf",
	"application/json": "json",
	"application/xml":  "xml",
	"text/xml":         "xml",
}

// extensionFor returns the file extension used to store content of the given MIME type.
func extensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return defaultExtension
}

// lineagePath returns the path of the file holding a lineage's content.
// Format: serviceID/documentType.ext, each name escaped to a single path segment.
func lineagePath(serviceID, documentType, mimeType string) string {
	return path.Join(escapeSegment(serviceID), escapeSegment(documentType)+"."+extensionFor(mimeType))
}

// escapeSegment percent-encodes the bytes of name that would let it span or
// leave a directory: separators, NUL, a leading dot and '%' itself.
func escapeSegment(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '/', c == '\\', c == '%', c == 0, c == '.' && i == 0:
			fmt.Fprintf(&sb, "%%%02X", c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// isLineageFile reports whether name, a file inside a service directory,
// belongs to documentType regardless of its extension.
func isLineageFile(name, documentType string) bool {
	ext := path.Ext(name)
	return ext != "" && strings.TrimSuffix(name, ext) == escapeSegment(documentType)
}
