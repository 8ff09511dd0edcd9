package tagging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/go-flac"

	"github.com/cesargomez89/audiosource/internal/constants"
)

// ErrNoCover is returned when a file has no embedded picture.
var ErrNoCover = errors.New("no embedded cover")

// Cover returns the embedded front cover of an audio file and its MIME type.
// Any picture is returned when no front cover is marked.
func (r *Reader) Cover(path string) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtFLAC:
		if data, mime, err := flacCover(path); err == nil {
			return data, mime, nil
		}
	case constants.ExtMP3:
		if data, mime, err := mp3Cover(path); err == nil {
			return data, mime, nil
		}
	}
	return genericCover(path)
}

func flacCover(path string) ([]byte, string, error) {
	file, err := parseFLACMetadata(path)
	if err != nil {
		return nil, "", err
	}

	var fallback *flacpicture.MetadataBlockPicture
	for _, block := range file.Meta {
		if block.Type != flac.Picture {
			continue
		}
		pic, err := flacpicture.ParseFromMetaDataBlock(*block)
		if err != nil || len(pic.ImageData) == 0 {
			continue
		}
		if pic.PictureType == flacpicture.PictureTypeFrontCover {
			return pic.ImageData, pic.MIME, nil
		}
		if fallback == nil {
			fallback = pic
		}
	}
	if fallback != nil {
		return fallback.ImageData, fallback.MIME, nil
	}
	return nil, "", ErrNoCover
}

func mp3Cover(path string) ([]byte, string, error) {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true, ParseFrames: []string{"Attached picture"}})
	if err != nil {
		return nil, "", err
	}
	defer t.Close()

	var fallback *id3v2.PictureFrame
	for _, f := range t.GetFrames(t.CommonID("Attached picture")) {
		pic, ok := f.(id3v2.PictureFrame)
		if !ok || len(pic.Picture) == 0 {
			continue
		}
		if pic.PictureType == id3v2.PTFrontCover {
			return pic.Picture, pic.MimeType, nil
		}
		if fallback == nil {
			p := pic
			fallback = &p
		}
	}
	if fallback != nil {
		return fallback.Picture, fallback.MimeType, nil
	}
	return nil, "", ErrNoCover
}

func genericCover(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	md, err := tag.ReadFrom(f)
	if err != nil {
		return nil, "", ErrNoCover
	}
	pic := md.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, "", ErrNoCover
	}
	return pic.Data, pic.MIMEType, nil
}
