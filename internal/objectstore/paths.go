package objectstore

import (
	"fmt"
	"path"
	"strings"
)

// GeneratedMarker tags every generated object name so that folder listings
// used as inputs never pick outputs up again.
const GeneratedMarker = "_gemini"

// inputExtensions 输入目录中允许的图片扩展名
var inputExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Join joins key segments with '/', dropping empty segments and stray
// slashes.
func Join(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}

// JobPrefix returns the key prefix that owns everything written for jobID.
func JobPrefix(pathPrefix, jobID string) string {
	return Join(pathPrefix, jobID)
}

// FolderPrefix returns the listing prefix for an input folder.
func FolderPrefix(folder string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return ""
	}
	return folder + "/"
}

// IsGenerated reports whether name carries the generated-object marker.
func IsGenerated(name string) bool {
	return strings.Contains(path.Base(name), GeneratedMarker)
}

// IsInputImage reports whether name is a candidate input: a real object
// (not a directory marker), not generated by us, with an image extension.
func IsInputImage(name string) bool {
	if name == "" || strings.HasSuffix(name, "/") {
		return false
	}
	if IsGenerated(name) {
		return false
	}
	return inputExtensions[strings.ToLower(path.Ext(name))]
}

// GeneratedName builds a file name carrying the marker, e.g.
// GeneratedName("variation_0", "png") = "variation_0_gemini.png".
func GeneratedName(stem, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s%s.%s", stem, GeneratedMarker, ext)
}

// ExtensionForMIME maps an image MIME type onto a file extension.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mime, ";")[0])) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/png", "":
		return "png"
	default:
		return "png"
	}
}

// MIMEForName guesses an image MIME type from a file name.
func MIMEForName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

// SanitizeSegment makes a remote resource name safe to use as one key
// segment ("batches/abc" becomes "batches_abc").
func SanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}
