package bundle

import (
	"path"
	"strings"
)

// ContentTypeJSON is used for the records the object-storage host keeps
// next to a site.
const ContentTypeJSON = "application/json"

// ContentTypePlain is used for small pointer objects.
const ContentTypePlain = "text/plain; charset=utf-8"

var contentTypes = map[string]string{
	".html":        "text/html; charset=utf-8",
	".htm":         "text/html; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".js":          "text/javascript; charset=utf-8",
	".mjs":         "text/javascript; charset=utf-8",
	".json":        "application/json",
	".webmanifest": "application/manifest+json",
	".xml":         "application/xml",
	".txt":         "text/plain; charset=utf-8",
	".md":          "text/markdown; charset=utf-8",
	".svg":         "image/svg+xml",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".webp":        "image/webp",
	".avif":        "image/avif",
	".ico":         "image/x-icon",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
	".otf":         "font/otf",
	".pdf":         "application/pdf",
	".mp4":         "video/mp4",
	".webm":        "video/webm",
	".wasm":        "application/wasm",
}

// ContentTypeForPath returns the MIME type for a site path based on its
// extension, or application/octet-stream.
func ContentTypeForPath(p string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// CacheControlForPath returns the Cache-Control value for a published path.
// HTML must revalidate so a new deploy is visible immediately; everything
// else may be cached by the CDN for an hour.
func CacheControlForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".html", ".htm", "":
		return "public, max-age=0, must-revalidate"
	default:
		return "public, max-age=3600"
	}
}
