package download

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bogem/id3v2/v2"
)

// Artist is written into every tagged file.
const Artist = "Headspace"

// ErrUnsupportedContainer is returned for files that are not MPEG audio.
var ErrUnsupportedContainer = errors.New("not an MPEG audio file")

// TagError reports a failed tag update. The download itself is kept.
type TagError struct {
	Path string
	Err  error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("tag %s: %v", e.Path, e.Err)
}

func (e *TagError) Unwrap() error {
	return e.Err
}

// Tagger writes ID3v2 tags into downloaded MP3 sessions.
type Tagger struct{}

// Tag sets title, album and artist on the file at path, keeping any other
// frames already present. The track frame is "N/T" when both are nonzero,
// "N" when only track is, and removed otherwise.
func (Tagger) Tag(path, title, album string, track, total int) error {
	if err := sniffMPEG(path); err != nil {
		return &TagError{Path: path, Err: err}
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return &TagError{Path: path, Err: err}
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(title)
	tag.SetAlbum(album)
	tag.SetArtist(Artist)

	trackID := tag.CommonID("Track number/Position in set")
	tag.DeleteFrames(trackID)
	if value := trackValue(track, total); value != "" {
		tag.AddTextFrame(trackID, tag.DefaultEncoding(), value)
	}

	if err := tag.Save(); err != nil {
		return &TagError{Path: path, Err: err}
	}
	return nil
}

func trackValue(track, total int) string {
	switch {
	case track > 0 && total > 0:
		return strconv.Itoa(track) + "/" + strconv.Itoa(total)
	case track > 0:
		return strconv.Itoa(track)
	default:
		return ""
	}
}

// sniffMPEG accepts files that start with an ID3v2 header or an MPEG
// audio frame sync.
func sniffMPEG(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 3)
	if _, err := io.ReadFull(f, head); err != nil {
		return ErrUnsupportedContainer
	}
	if bytes.Equal(head, []byte("ID3")) {
		return nil
	}
	if head[0] == 0xFF && head[1]&0xE0 == 0xE0 {
		return nil
	}
	return ErrUnsupportedContainer
}
