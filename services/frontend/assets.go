package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var gridAssets embed.FS

// StaticHandler serves the week grid stylesheet. Mount it under /static/.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(gridAssets, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || r.URL.Path == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		files.ServeHTTP(w, r)
	})
}
