package media

import (
	"path/filepath"
	"strings"
)

// codecMIMETypes maps video codecs whose identity pins the output type
// regardless of an ambiguous container name.
var codecMIMETypes = map[string]string{
	"h264":  "video/mp4",
	"h265":  "video/mp4",
	"hevc":  "video/mp4",
	"mpeg4": "video/mp4",
	"avc1":  "video/mp4",
	"vp8":   "video/webm",
	"vp9":   "video/webm",
}

// containerMIMETypes maps ffprobe format_name fragments to MIME types.
// Order matters: ffprobe reports combined names like "mov,mp4,m4a", and the
// earlier fragment wins.
var containerMIMETypes = []struct {
	fragment string
	mime     string
}{
	{"webm", "video/webm"},
	{"matroska", "video/x-matroska"},
	{"mkv", "video/x-matroska"},
	{"avi", "video/x-msvideo"},
	{"flv", "video/x-flv"},
	{"mp4", "video/mp4"},
	{"mov", "video/quicktime"},
	{"quicktime", "video/quicktime"},
}

// extensionMIMETypes resolves attachments with no usable content type.
var extensionMIMETypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".flv":  "video/x-flv",
	".mov":  "video/quicktime",
	".m4v":  "video/mp4",
}

// MIMEFromProbe derives the output content type from probe metadata. Codec
// identity wins over container name because ffprobe reports mov files with a
// combined "mov,mp4,m4a" format string.
func MIMEFromProbe(codecName, formatName string) string {
	if mime, ok := codecMIMETypes[strings.ToLower(codecName)]; ok {
		return mime
	}
	format := strings.ToLower(formatName)
	for _, entry := range containerMIMETypes {
		if strings.Contains(format, entry.fragment) {
			return entry.mime
		}
	}
	return "video/mp4"
}

// MIMEFromFilename resolves a video MIME type from the file extension,
// returning false for extensions that are not video containers.
func MIMEFromFilename(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	mime, ok := extensionMIMETypes[ext]
	return mime, ok
}
