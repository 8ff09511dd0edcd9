package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// PathTemplateData holds the data for library path template execution
type PathTemplateData struct {
	Artist string
	Album  string
	Year   string
}

// BuildPathTemplateData sanitizes the values used in a library path.
func BuildPathTemplateData(artist, album, releaseDate string) *PathTemplateData {
	year := ""
	if len(releaseDate) >= 4 {
		year = releaseDate[:4]
	}
	if strings.TrimSpace(artist) == "" {
		artist = "Unknown Artist"
	}
	if strings.TrimSpace(album) == "" {
		album = "Unknown Album"
	}
	return &PathTemplateData{
		Artist: Sanitize(artist),
		Album:  Sanitize(album),
		Year:   year,
	}
}

// BuildPath executes the template and returns the relative path
func BuildPath(templateStr string, data *PathTemplateData) (string, error) {
	tmpl, err := template.New("library").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// BuildLibraryDir joins the library root with the rendered template and
// refuses results that escape the root.
func BuildLibraryDir(root, templateStr string, data *PathTemplateData) (string, error) {
	rel, err := BuildPath(templateStr, data)
	if err != nil {
		return "", err
	}

	rel = filepath.Clean(rel)
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("template %q resolves outside the library: %s", templateStr, rel)
	}

	return filepath.Join(root, rel), nil
}
