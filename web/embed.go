// Package web provides the embedded templates and static assets of the
// dashboard page.
package web

import (
	"embed"
	"io/fs"
)

// TemplatesFS embeds all HTML templates from the templates directory.
//
//go:embed templates
var TemplatesFS embed.FS

//go:embed static
var staticFS embed.FS

// StaticFS returns the static assets rooted at the static directory, ready
// to be served under /static.
func StaticFS() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// static is embedded above, so Sub cannot fail.
		panic(err)
	}
	return sub
}
