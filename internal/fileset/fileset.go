// Package fileset implements the path-to-content mapping shipped between
// pipeline stages and the fenced-code-block wire format used to move a
// FileSet through an LM response.
package fileset

import (
	"bufio"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// FileSet is an ordered mapping from normalized relative path to file
// content. Order is preserved so serialization is stable for tests and logs.
type FileSet struct {
	order []string
	files map[string]string
}

// New returns an empty FileSet.
func New() *FileSet {
	return &FileSet{files: make(map[string]string)}
}

// Set inserts or overwrites the content at path. path is normalized first;
// an already-present path keeps its position in iteration order.
func (fs *FileSet) Set(p, content string) {
	np := Normalize(p)
	if _, ok := fs.files[np]; !ok {
		fs.order = append(fs.order, np)
	}
	fs.files[np] = content
}

// Get returns the content at path and whether it was present.
func (fs *FileSet) Get(p string) (string, bool) {
	v, ok := fs.files[Normalize(p)]
	return v, ok
}

// Delete removes path from the set.
func (fs *FileSet) Delete(p string) {
	np := Normalize(p)
	if _, ok := fs.files[np]; !ok {
		return
	}
	delete(fs.files, np)
	for i, v := range fs.order {
		if v == np {
			fs.order = append(fs.order[:i], fs.order[i+1:]...)
			break
		}
	}
}

// Paths returns the normalized paths in insertion order.
func (fs *FileSet) Paths() []string {
	out := make([]string, len(fs.order))
	copy(out, fs.order)
	return out
}

// Len returns the number of entries.
func (fs *FileSet) Len() int {
	return len(fs.order)
}

// Clone returns a deep copy.
func (fs *FileSet) Clone() *FileSet {
	out := New()
	for _, p := range fs.order {
		out.Set(p, fs.files[p])
	}
	return out
}

// Equal reports whether two FileSets contain the same paths and content,
// modulo trailing-whitespace normalization per entry.
func Equal(a, b *FileSet) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, p := range a.Paths() {
		av, _ := a.Get(p)
		bv, ok := b.Get(p)
		if !ok || trimTrailing(av) != trimTrailing(bv) {
			return false
		}
	}
	return true
}

func trimTrailing(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Normalize rewrites path separators to forward slashes, strips a leading
// slash, and collapses "." segments. Paths with ".." components are rejected
// by callers that need to materialize to disk; Normalize itself only
// canonicalizes separators so parsing never panics on hostile input.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." {
		return ""
	}
	return p
}

// HasParentTraversal reports whether any path segment is "..".
func HasParentTraversal(p string) bool {
	for _, seg := range strings.Split(Normalize(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// StripPrefix removes a single leading "src/" or "tests/" path segment, used
// when materializing a FileSet entry so that "src/x.py" and "x.py" land at
// the same place under a sandbox's src root.
func StripPrefix(p, prefix string) string {
	np := Normalize(p)
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	return strings.TrimPrefix(np, prefix)
}

var (
	fenceInfoPathRe = regexp.MustCompile(`:(\S+)\s*$`)
	firstLinePathRe = regexp.MustCompile(`^#\s*([\w./\\-]+)\s*$`)
	fenceOpenRe     = regexp.MustCompile("^```([^\\n]*)$")
)

// ParseResponse extracts a FileSet from an LM response containing fenced
// code blocks. The relative path for a block is read from the fence's info
// string (a trailing ":<relpath>" token) if present, otherwise from a
// "# <relpath>" comment on the block's first interior line. Blocks with no
// discoverable path are assigned a fallback name "module_<N>" with the
// extension inferred from the fence's language tag, if any.
func ParseResponse(response string) *FileSet {
	fs := New()
	scanner := bufio.NewScanner(strings.NewReader(response))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var (
		inBlock    bool
		lang       string
		fencePath  string
		lines      []string
		fallbackN  int
	)

	flush := func() {
		if !inBlock {
			return
		}
		body := strings.Join(lines, "\n")
		p := fencePath
		if p == "" && len(lines) > 0 {
			if m := firstLinePathRe.FindStringSubmatch(lines[0]); m != nil {
				p = m[1]
				body = strings.Join(lines[1:], "\n")
			}
		}
		if p == "" {
			fallbackN++
			ext := ""
			if lang != "" {
				ext = "." + lang
			}
			p = fmt.Sprintf("module_%d%s", fallbackN, ext)
		}
		if strings.TrimSpace(body) != "" || p != "" {
			fs.Set(p, body)
		}
		inBlock = false
		lang = ""
		fencePath = ""
		lines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !inBlock {
			if m := fenceOpenRe.FindStringSubmatch(line); m != nil {
				inBlock = true
				info := strings.TrimSpace(m[1])
				if pm := fenceInfoPathRe.FindStringSubmatch(info); pm != nil {
					fencePath = pm[1]
					lang = strings.TrimSpace(info[:len(info)-len(pm[0])])
				} else {
					lang = info
				}
				continue
			}
			continue
		}
		if strings.HasPrefix(strings.TrimRight(line, " \t"), "```") {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	// unterminated fence: salvage what was collected
	flush()
	return fs
}

// Serialize renders a FileSet back into the fenced-code-block wire format,
// one block per entry, each carrying a "# <relpath>" first line. This is the
// inverse of ParseResponse for FileSets produced by ParseResponse itself.
func Serialize(fs *FileSet) string {
	var b strings.Builder
	for _, p := range fs.Paths() {
		content, _ := fs.Get(p)
		fmt.Fprintf(&b, "```\n# %s\n%s\n```\n\n", p, content)
	}
	return b.String()
}

// MergeFallback merges updated into base: entries present in updated
// overwrite base; entries absent from updated but present in base are
// retained. Used for refinement/adaptation responses that omit unchanged
// files.
func MergeFallback(base, updated *FileSet) *FileSet {
	out := base.Clone()
	for _, p := range updated.Paths() {
		v, _ := updated.Get(p)
		out.Set(p, v)
	}
	return out
}
