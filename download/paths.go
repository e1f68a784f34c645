package download

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

// TechniquesDir holds a pack's technique videos.
const TechniquesDir = "Techniques"

var levelPattern = regexp.MustCompile(`Session \d+ of (Level \d+)`)

// FilesystemError reports a destination that cannot be used. Retrying does
// not help.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem error at %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Target is where one download lands.
type Target struct {
	Directory   string
	Filename    string
	IsTechnique bool
	// Level is the "Level N" label taken from the filename, if any.
	Level string
}

// Path joins Directory and Filename.
func (t Target) Path() string {
	if t.Directory == "" {
		return t.Filename
	}
	return filepath.Join(t.Directory, t.Filename)
}

// PathResolver lays out downloads under Root:
//
//	<root>/<pack>/[Level N/][Techniques/]<file>
//
// Items without a pack go straight into Root.
type PathResolver struct {
	Root string
	// SlugNames turns pack directory names into ASCII slugs.
	SlugNames bool
}

// PackDir returns the directory a pack's files go to.
func (p *PathResolver) PackDir(packName string) string {
	return filepath.Join(p.Root, p.packDirName(packName))
}

// Resolve computes the target for filename and creates its directories.
func (p *PathResolver) Resolve(packName, filename string, isTechnique bool) (Target, error) {
	filename = SanitizeName(filename)
	if filename == "" {
		return Target{}, &FilesystemError{Path: p.Root, Err: errors.New("empty filename")}
	}
	target := Target{Filename: filename, IsTechnique: isTechnique}

	if strings.TrimSpace(packName) == "" {
		if p.Root != "" {
			if err := requireDir(p.Root); err != nil {
				return Target{}, err
			}
		}
		target.Directory = p.Root
		return target, nil
	}

	dir := p.PackDir(packName)
	if m := levelPattern.FindStringSubmatch(filename); m != nil {
		target.Level = m[1]
		dir = filepath.Join(dir, target.Level)
	}
	if isTechnique {
		dir = filepath.Join(dir, TechniquesDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Target{}, &FilesystemError{Path: dir, Err: err}
	}
	target.Directory = dir
	return target, nil
}

func (p *PathResolver) packDirName(packName string) string {
	if p.SlugNames {
		if s := slug.Make(packName); s != "" {
			return s
		}
	}
	return SanitizeName(packName)
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return &FilesystemError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return &FilesystemError{Path: dir, Err: errors.New("not a directory")}
	}
	return nil
}

// SanitizeName makes s usable as a single path element. "|" becomes "-" the
// way the web app renders pack names; other reserved characters become "_".
func SanitizeName(s string) string {
	s = strings.ReplaceAll(s, "|", "-")
	replacements := []string{"/", "\\", ":", "*", "?", "\"", "<", ">"}
	for _, char := range replacements {
		s = strings.ReplaceAll(s, char, "_")
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " .")
}

// Extension derives the file extension from a media MIME type:
// audio/mpeg becomes mp3, anything else its subtype.
func Extension(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return "mp3"
	case "":
		return "bin"
	}
	if i := strings.LastIndex(mediaType, "/"); i >= 0 {
		return mediaType[i+1:]
	}
	return mediaType
}
