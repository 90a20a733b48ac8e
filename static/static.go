// Package static embeds the stylesheet and script served under /static.
package static

import "embed"

// FS holds css/ and js/. Request paths map directly onto it, so
// /static/css/app.css is css/app.css.
//
//go:embed css js
var FS embed.FS
