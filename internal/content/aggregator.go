// Package content walks an extracted project submission and gathers the evidence sent to
// the grader: text files, screenshots and video flags, all under fixed budgets.
package content

import (
	"context"
	"encoding/base64"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/docreader"
)

var (
	imageExtensions = extensionSet(".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp")
	videoExtensions = extensionSet(".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm")
	textExtensions  = extensionSet(
		".py", ".java", ".js", ".ts", ".jsx", ".tsx",
		".txt", ".md",
		".json", ".yaml", ".yml", ".xml", ".ini", ".cfg", ".conf",
		".html", ".css", ".sh",
		".env", ".log",
		".c", ".cpp", ".h", ".hpp",
		".rb", ".php", ".go", ".cs", ".swift",
	)
	documentExtensions = extensionSet(docreader.DocumentExtensions...)

	ignoredDirs = map[string]struct{}{
		"__pycache__": {}, ".idea": {}, ".venv": {}, "venv": {}, "node_modules": {},
		".git": {}, "dist": {}, "build": {}, "__MACOSX": {},
	}
)

const nestedSuffix = "_extracted_nested"

// Skip reasons reported in diagnostics.
const (
	ReasonTooLarge         = "too_large"
	ReasonReadFailed       = "read_failed"
	ReasonArchiveFailed    = "archive_failed"
	ReasonArchiveDuplicate = "archive_duplicate"
	ReasonArchiveDepth     = "archive_depth"
)

// Limits bounds what the aggregator admits.
type Limits struct {
	MaxFileBytes    int64
	MaxFileChars    int
	MaxTotalChars   int
	MaxImages       int
	MaxArchiveDepth int
	MaxExtractBytes int64
}

// DefaultLimits returns the standard budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:    10 * 1024 * 1024,
		MaxFileChars:    4000,
		MaxTotalChars:   200000,
		MaxImages:       5,
		MaxArchiveDepth: 8,
		MaxExtractBytes: 2 * 1024 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	defaults := DefaultLimits()
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = defaults.MaxFileBytes
	}
	if l.MaxFileChars <= 0 {
		l.MaxFileChars = defaults.MaxFileChars
	}
	if l.MaxTotalChars <= 0 {
		l.MaxTotalChars = defaults.MaxTotalChars
	}
	if l.MaxImages <= 0 {
		l.MaxImages = defaults.MaxImages
	}
	if l.MaxArchiveDepth <= 0 {
		l.MaxArchiveDepth = defaults.MaxArchiveDepth
	}
	if l.MaxExtractBytes <= 0 {
		l.MaxExtractBytes = defaults.MaxExtractBytes
	}
	return l
}

// Aggregator collects a ContentBundle from a project directory.
type Aggregator struct {
	limits Limits
	logger zerolog.Logger
}

// NewAggregator constructs an aggregator. Zero limits fall back to the defaults.
func NewAggregator(limits Limits, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		limits: limits.withDefaults(),
		logger: logger.With().Str("component", "content_aggregator").Logger(),
	}
}

// Limits returns the effective budgets.
func (a *Aggregator) Limits() Limits {
	return a.limits
}

type queuedDir struct {
	path  string
	depth int
}

type candidate struct {
	path    string
	content string
	length  int
}

type walkState struct {
	root        string
	bundle      Bundle
	candidates  []candidate
	visitedZips map[string]struct{}
	zipDigests  map[string]struct{}
	queue       []queuedDir
}

// Collect walks root breadth first and returns the budgeted bundle. Individual file
// failures become diagnostics; only context cancellation aborts the walk.
func (a *Aggregator) Collect(ctx context.Context, root string) (Bundle, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Bundle{}, err
	}

	state := &walkState{
		root:        absRoot,
		visitedZips: map[string]struct{}{},
		zipDigests:  map[string]struct{}{},
		queue:       []queuedDir{{path: absRoot}},
	}

	for len(state.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return Bundle{}, err
		}
		current := state.queue[0]
		state.queue = state.queue[1:]
		a.scanDir(state, current)
	}

	a.admitText(state)

	a.logger.Info().
		Int("text_files", len(state.bundle.Texts)).
		Int("text_chars", state.bundle.TotalChars).
		Int("images", len(state.bundle.Images)).
		Int("videos", len(state.bundle.Videos)).
		Int("skipped", len(state.bundle.Skipped)).
		Msg("project content collected")

	return state.bundle, nil
}

func (a *Aggregator) scanDir(state *walkState, dir queuedDir) {
	entries, err := os.ReadDir(dir.path)
	if err != nil {
		a.skip(state, dir.path, ReasonReadFailed, err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		fullPath := filepath.Join(dir.path, name)

		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if entry.IsDir() {
			if _, ignored := ignoredDirs[name]; !ignored {
				state.queue = append(state.queue, queuedDir{path: fullPath, depth: dir.depth})
			}
			continue
		}
		if strings.HasPrefix(name, "._") || name == ".DS_Store" || strings.Contains(fullPath, "__MACOSX") {
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(name))
		if ext == ".zip" {
			a.handleArchive(state, fullPath, dir.depth)
			continue
		}

		info, err := entry.Info()
		if err != nil {
			a.skip(state, fullPath, ReasonReadFailed, err)
			continue
		}
		if info.Size() > a.limits.MaxFileBytes {
			a.skip(state, fullPath, ReasonTooLarge, nil)
			continue
		}

		switch {
		case has(imageExtensions, ext):
			if len(state.bundle.Images) < a.limits.MaxImages {
				a.addImage(state, fullPath, ext)
			}
		case has(textExtensions, ext), has(documentExtensions, ext):
			a.addText(state, fullPath, ext)
		case has(videoExtensions, ext):
			state.bundle.Videos = append(state.bundle.Videos, state.relative(fullPath))
		}
	}
}

func (a *Aggregator) handleArchive(state *walkState, path string, depth int) {
	if _, seen := state.visitedZips[path]; seen {
		return
	}
	state.visitedZips[path] = struct{}{}

	if depth+1 > a.limits.MaxArchiveDepth {
		a.skip(state, path, ReasonArchiveDepth, nil)
		return
	}

	digest, err := fileDigest(path)
	if err != nil {
		a.skip(state, path, ReasonReadFailed, err)
		return
	}
	if _, seen := state.zipDigests[digest]; seen {
		a.skip(state, path, ReasonArchiveDuplicate, nil)
		return
	}
	state.zipDigests[digest] = struct{}{}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dest := filepath.Join(filepath.Dir(path), base+nestedSuffix)
	if err := ExtractZip(path, dest, a.limits.MaxExtractBytes); err != nil {
		a.skip(state, path, ReasonArchiveFailed, err)
		return
	}
	state.queue = append(state.queue, queuedDir{path: dest, depth: depth + 1})
}

func (a *Aggregator) addImage(state *walkState, path, ext string) {
	data, err := os.ReadFile(path)
	if err != nil {
		a.skip(state, path, ReasonReadFailed, err)
		return
	}

	mimeType := mimetype.Detect(data).String()
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = mime.TypeByExtension(ext)
	}
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	state.bundle.Images = append(state.bundle.Images, Image{
		Path:     state.relative(path),
		MIMEType: mimeType,
		Base64:   base64.StdEncoding.EncodeToString(data),
	})
}

func (a *Aggregator) addText(state *walkState, path, ext string) {
	var (
		text string
		err  error
	)
	if has(documentExtensions, ext) {
		text, err = docreader.Read(path)
	} else {
		var data []byte
		data, err = os.ReadFile(path)
		text = strings.ToValidUTF8(string(data), "")
	}
	if err != nil {
		a.skip(state, path, ReasonReadFailed, err)
		return
	}
	if text == "" {
		return
	}
	state.candidates = append(state.candidates, candidate{
		path:    state.relative(path),
		content: text,
		length:  utf8.RuneCountInString(text),
	})
}

// admitText keeps the smallest candidates first, each truncated, until the next one
// would overflow the global budget.
func (a *Aggregator) admitText(state *walkState) {
	sort.SliceStable(state.candidates, func(i, j int) bool {
		return state.candidates[i].length < state.candidates[j].length
	})

	total := 0
	for _, c := range state.candidates {
		truncated := truncateRunes(c.content, a.limits.MaxFileChars)
		size := utf8.RuneCountInString(truncated)
		if total+size > a.limits.MaxTotalChars {
			break
		}
		state.bundle.Texts = append(state.bundle.Texts, TextFile{Path: c.path, Content: truncated})
		total += size
	}
	state.bundle.TotalChars = total
}

func (a *Aggregator) skip(state *walkState, path, reason string, err error) {
	diagnostic := Diagnostic{Path: state.relative(path), Reason: reason}
	event := a.logger.Warn().Str("path", diagnostic.Path).Str("reason", reason)
	if err != nil {
		diagnostic.Detail = err.Error()
		event = event.Err(err)
	}
	event.Msg("skipping project file")
	state.bundle.Skipped = append(state.bundle.Skipped, diagnostic)
}

func (s *walkState) relative(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

func extensionSet(exts ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[ext] = struct{}{}
	}
	return set
}

func has(set map[string]struct{}, ext string) bool {
	_, ok := set[ext]
	return ok
}
