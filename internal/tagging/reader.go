package tagging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/cesargomez89/audiosource/internal/constants"
)

// FileTags is the metadata read from one audio file.
type FileTags struct {
	Title       string
	Album       string
	Artist      string
	AlbumArtist string
	Format      string
	Year        int
	Track       int
	Disc        int
	Duration    int // seconds
}

// Reader extracts tags from audio files.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// Read returns the tags of the file at path. Format specific readers fill
// in what the generic reader leaves out.
func (r *Reader) Read(path string) (*FileTags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	md, err := tag.ReadFrom(f)
	if err != nil && !errors.Is(err, tag.ErrNoTagsFound) {
		return nil, fmt.Errorf("failed to read tags from %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	ft := &FileTags{Format: strings.TrimPrefix(ext, ".")}

	if md != nil {
		ft.Title = strings.TrimSpace(md.Title())
		ft.Album = strings.TrimSpace(md.Album())
		ft.Artist = strings.TrimSpace(md.Artist())
		ft.AlbumArtist = strings.TrimSpace(md.AlbumArtist())
		ft.Year = md.Year()
		ft.Track, _ = md.Track()
		ft.Disc, _ = md.Disc()
	}

	switch ext {
	case constants.ExtFLAC:
		readFLAC(path, ft)
	case constants.ExtMP3:
		readMP3(path, ft)
	}

	if ft.Disc <= 0 {
		ft.Disc = 1
	}
	return ft, nil
}

// readFLAC fills duration from STREAMINFO and track/disc from the vorbis
// comment when the generic reader found none. Errors are ignored; the
// generic tags stand on their own.
func readFLAC(path string, ft *FileTags) {
	file, err := parseFLACMetadata(path)
	if err != nil {
		return
	}

	if info, err := file.GetStreamInfo(); err == nil && info.SampleRate > 0 {
		ft.Duration = int(int64(info.SampleCount) / int64(info.SampleRate))
	}

	if ft.Track > 0 && ft.Disc > 0 {
		return
	}
	for _, block := range file.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			return
		}
		if ft.Track <= 0 {
			if v, err := cmt.Get(flacvorbis.FIELD_TRACKNUMBER); err == nil && len(v) > 0 {
				ft.Track = parseNumber(v[0])
			}
		}
		if ft.Disc <= 0 {
			if v, err := cmt.Get("DISCNUMBER"); err == nil && len(v) > 0 {
				ft.Disc = parseNumber(v[0])
			}
		}
		return
	}
}

// parseFLACMetadata reads only the metadata blocks of a FLAC file.
func parseFLACMetadata(path string) (*flac.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	file, err := flac.ParseMetadata(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse flac metadata: %w", err)
	}
	return file, nil
}

// readMP3 takes the duration from the TLEN frame (milliseconds).
func readMP3(path string, ft *FileTags) {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true, ParseFrames: []string{"Length"}})
	if err != nil {
		return
	}
	defer t.Close()

	if tf := t.GetTextFrame(t.CommonID("Length")); tf.Text != "" {
		if ms, err := strconv.Atoi(strings.TrimSpace(tf.Text)); err == nil && ms > 0 {
			ft.Duration = ms / 1000
		}
	}
}

// parseNumber reads "3" or "3/12".
func parseNumber(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
