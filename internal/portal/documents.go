package portal

import (
	"embed"
	"net/http"
	"path/filepath"

	"github.com/laborar/portal/pkg"

	log "github.com/sirupsen/logrus"
)

const (
	LoginDocument   = "login.html"
	LandingDocument = "inicio.html"
)

//go:embed pages/*.html
var embeddedPages embed.FS

// Documents serves the login and landing pages, preferring the copies on disk
// and falling back to the ones built into the binary. The landing page is read
// from viewsDir, which must never be the static root.
type Documents struct {
	publicDir string
	viewsDir  string
}

func NewDocuments(publicDir, viewsDir string) *Documents {
	return &Documents{
		publicDir: publicDir,
		viewsDir:  viewsDir,
	}
}

func (d *Documents) dirFor(name string) string {
	if name == LandingDocument {
		return d.viewsDir
	}
	return d.publicDir
}

func (d *Documents) Serve(w http.ResponseWriter, r *http.Request, name string) {
	if dir := d.dirFor(name); dir != "" {
		path := filepath.Join(dir, name)
		exists, err := pkg.PathExists(path, false)
		if err != nil {
			log.Warnf("document %s: %s", path, err)
		}
		if exists {
			http.ServeFile(w, r, path)
			return
		}
	}

	content, err := embeddedPages.ReadFile("pages/" + name)
	if err != nil {
		log.Errorf("embedded document %s: %s", name, err)
		notFound(w)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.HTML, content)
}
