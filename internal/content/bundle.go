package content

// TextFile is an admitted, truncated text file keyed by its path relative to the project root.
type TextFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Image is an embedded screenshot.
type Image struct {
	Path     string `json:"path"`
	MIMEType string `json:"mime_type"`
	Base64   string `json:"-"`
}

// DataURL renders the image as a data URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64
}

// Diagnostic records a file that was skipped and why.
type Diagnostic struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Bundle is the evidence gathered from a project. Texts keep admission order, which is
// ascending content length.
type Bundle struct {
	Texts      []TextFile
	Images     []Image
	Videos     []string
	Skipped    []Diagnostic
	TotalChars int
}

// HasVideo reports whether any video file was found.
func (b Bundle) HasVideo() bool {
	return len(b.Videos) > 0
}

// TextMap returns the admitted texts keyed by path.
func (b Bundle) TextMap() map[string]string {
	out := make(map[string]string, len(b.Texts))
	for _, text := range b.Texts {
		out[text.Path] = text.Content
	}
	return out
}
