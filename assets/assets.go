// Package assets embeds the page template, its stylesheet and script, and the favicon.
package assets

import _ "embed"

// IndexTemplate is the html/template source of the map page.
//
//go:embed index.html.tpl
var IndexTemplate string

// CSS is the unminified page stylesheet.
//
//go:embed style.css
var CSS string

// JS is the unminified page script.
//
//go:embed script.js
var JS string

// Favicon is served as image/svg+xml.
//
//go:embed favicon.svg
var Favicon []byte
