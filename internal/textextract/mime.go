package textextract

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

var extMimeTypes = map[string]string{
	".txt":  MimePlain,
	".pdf":  MimePDF,
	".docx": MimeDOCX,
	".doc":  MimeDOC,
	".png":  MimePNG,
	".jpg":  MimeJPEG,
	".jpeg": MimeJPEG,
	".webp": MimeWebP,
	".gif":  MimeGIF,
}

// DetectMimeType guesses the MIME type of a local file from its extension,
// falling back to content sniffing.
func DetectMimeType(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extMimeTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return NormalizeMimeType(mt)
	}
	return NormalizeMimeType(http.DetectContentType(data))
}
