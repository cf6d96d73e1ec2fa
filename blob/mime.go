package blob

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

var extensionTypes = map[string]string{
	// images
	"bmp":  "image/bmp",
	"gif":  "image/gif",
	"icns": "image/x-icns",
	"ico":  "image/x-icon",
	"jfif": "image/jpeg",
	"jpe":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"pbm":  "image/x-portable-bitmap",
	"pgm":  "image/x-portable-graymap",
	"pnm":  "image/x-portable-anymap",
	"ppm":  "image/x-portable-pixmap",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
	// documents
	"pdf":  "application/pdf",
	"json": "application/json",
	"xml":  "application/xml",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
	"html": "text/html",
	// audio
	"flac": "audio/flac",
	"mp3":  "audio/mpeg",
	"mp4":  "audio/mpeg",
	"mpeg": "audio/mpeg",
	"mpga": "audio/mpeg",
	"m4a":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"wav":  "audio/vnd.wav",
	"webm": "audio/webm",
}

// Extension returns the lower-case file extension of a path or URL, without the dot.
// Query strings and fragments of URLs are ignored.
func Extension(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && u.Scheme != "file" && len(u.Scheme) > 1 {
		p = u.Path
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

// GuessType guesses a media type from the location's extension. It returns "" when unknown.
func GuessType(location string) string {
	ext := Extension(location)
	if ext == "" {
		return ""
	}
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		mediaType, _, err := mime.ParseMediaType(t)
		if err == nil {
			return mediaType
		}
		return t
	}
	return ""
}
