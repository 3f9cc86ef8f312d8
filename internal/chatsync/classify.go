package chatsync

import (
	"net/url"
	"path"
	"strings"

	"github.com/codefionn/ictchat/internal/models"
)

// FileKind is the icon family of a file attachment.
type FileKind int

const (
	FileGeneric FileKind = iota
	FilePDF
	FileWord
	FileSpreadsheet
	FileArchive
	FilePresentation
	FileText
)

func (k FileKind) String() string {
	switch k {
	case FilePDF:
		return "pdf"
	case FileWord:
		return "word"
	case FileSpreadsheet:
		return "spreadsheet"
	case FileArchive:
		return "archive"
	case FilePresentation:
		return "presentation"
	case FileText:
		return "text"
	default:
		return "generic"
	}
}

// MarshalText renders the kind name in JSON.
func (k FileKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name; unknown names decode as FileGeneric.
func (k *FileKind) UnmarshalText(text []byte) error {
	*k = FileGeneric
	for c := FileGeneric; c <= FileText; c++ {
		if c.String() == string(text) {
			*k = c
			break
		}
	}
	return nil
}

var (
	imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true}
	fileExts  = map[string]bool{"pdf": true, "doc": true, "docx": true, "txt": true, "zip": true, "rar": true}

	fileKinds = map[string]FileKind{
		"pdf":  FilePDF,
		"doc":  FileWord,
		"docx": FileWord,
		"xls":  FileSpreadsheet,
		"xlsx": FileSpreadsheet,
		"csv":  FileSpreadsheet,
		"zip":  FileArchive,
		"rar":  FileArchive,
		"7z":   FileArchive,
		"ppt":  FilePresentation,
		"pptx": FilePresentation,
		"txt":  FileText,
	}
)

// Attachment describes the file behind an image or file message.
type Attachment struct {
	URL  string   `json:"url"`
	Name string   `json:"name"`
	Kind FileKind `json:"kind"`
}

// Classify decides how a message renders. An explicit type wins; without
// one the payload's extension decides, and anything unknown is text.
func Classify(m models.Message) models.MessageType {
	switch m.Type {
	case models.TypeText, models.TypeImage, models.TypeFile:
		return m.Type
	}
	ext := extension(m.Text)
	switch {
	case imageExts[ext]:
		return models.TypeImage
	case fileExts[ext]:
		return models.TypeFile
	default:
		return models.TypeText
	}
}

// KindOf returns the file kind for a name or URL.
func KindOf(name string) FileKind {
	return fileKinds[extension(name)]
}

// FileName returns the last path element of a URL, unescaped.
func FileName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "." || name == "/" {
		return raw
	}
	return name
}

func attachmentOf(m models.Message, kind models.MessageType) *Attachment {
	if kind == models.TypeText {
		return nil
	}
	return &Attachment{URL: m.Text, Name: FileName(m.Text), Kind: KindOf(m.Text)}
}

func extension(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	ext := path.Ext(s)
	if ext == "" || strings.ContainsAny(ext, " /") {
		return ""
	}
	return strings.ToLower(ext[1:])
}
