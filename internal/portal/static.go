package portal

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"
)

const notFoundMessage = "Página no encontrada"

func notFound(w http.ResponseWriter) {
	http.Error(w, notFoundMessage, http.StatusNotFound)
}

// NotFoundHandler answers every unknown route.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		notFound(w)
	})
}

// StaticFiles serves regular files under root. Directories are never listed
// nor resolved to an index document, they get the same 404 as missing files.
// Paths with a trailing slash and the landing document name are never served.
type StaticFiles struct {
	root http.FileSystem
}

func NewStaticFiles(dir string) *StaticFiles {
	return &StaticFiles{root: http.Dir(dir)}
}

func (s *StaticFiles) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		notFound(w)
		return
	}

	if strings.HasSuffix(r.URL.Path, "/") {
		notFound(w)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if strings.EqualFold(path.Base(name), LandingDocument) {
		notFound(w)
		return
	}

	f, err := s.root.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debugf("static open %s: %s", name, err)
		}
		notFound(w)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Errorf("static close %s: %s", name, err)
		}
	}()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		notFound(w)
		return
	}

	http.ServeContent(w, r, stat.Name(), stat.ModTime(), f)
}
