package constants

import "strings"

// DocumentKind selects the extraction strategy for a file. It is resolved
// once per job from the file extension.
type DocumentKind int

const (
	KindUnsupported DocumentKind = iota
	KindPDF
	KindImage
)

func (k DocumentKind) String() string {
	switch k {
	case KindPDF:
		return "PDF"
	case KindImage:
		return "IMAGE"
	default:
		return "UNSUPPORTED"
	}
}

// AllowedExtensions holds the file extensions accepted for intake.
var AllowedExtensions = map[string]DocumentKind{
	"pdf":  KindPDF,
	"png":  KindImage,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"gif":  KindImage,
	"tif":  KindImage,
	"tiff": KindImage,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// KindForExt maps an extension (with or without dot) to a DocumentKind.
func KindForExt(ext string) DocumentKind {
	if k, ok := AllowedExtensions[NormalizeExt(ext)]; ok {
		return k
	}
	return KindUnsupported
}
