package mapview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	jsonmin "github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/woozymasta/quakemap/assets"
)

// PageTitle is the document title of the rendered page.
const PageTitle = "Earthquakes"

var pageTemplate = template.Must(template.New("index").Parse(assets.IndexTemplate))

type pageData struct {
	Title     string
	Container string
	Error     string
	CSS       template.CSS
	JS        template.JS
	View      template.JS
}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/javascript", js.Minify)
	m.AddFunc("application/json", jsonmin.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}

// Render writes v as a self-contained, minified HTML page.
func Render(w io.Writer, v *View) error {
	m := newMinifier()

	cssMin, err := m.String("text/css", assets.CSS)
	if err != nil {
		return fmt.Errorf("minify css: %w", err)
	}
	jsMin, err := m.String("text/javascript", assets.JS)
	if err != nil {
		return fmt.Errorf("minify js: %w", err)
	}

	viewJSON, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}

	var buf bytes.Buffer
	err = pageTemplate.Execute(&buf, pageData{
		Title:     PageTitle,
		Container: v.Container,
		Error:     v.Error,
		CSS:       template.CSS(cssMin),
		JS:        template.JS(jsMin),
		View:      template.JS(viewJSON),
	})
	if err != nil {
		return fmt.Errorf("execute template: %w", err)
	}

	if err := m.Minify("text/html", w, &buf); err != nil {
		return fmt.Errorf("minify html: %w", err)
	}
	return nil
}

// RenderBytes is Render into memory.
func RenderBytes(v *View) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MinifySVG shrinks an SVG document such as the favicon.
func MinifySVG(data []byte) ([]byte, error) {
	return newMinifier().Bytes("image/svg+xml", data)
}
