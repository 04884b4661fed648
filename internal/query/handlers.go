package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fepitre/debian-snapshot/internal/snaperr"
)

// apiVersion is the `_api` field every envelope carries, matching
// original_source/api/snapshot_api.py's hardcoded "0.3".
const apiVersion = "0.3"

// envelope is the JSON response shape spec.md §6 names:
// {_api, _comment, result?, fileinfo?}. fileinfo is its own field
// (rather than folded into result) because several handlers attach it
// alongside a primary result, mirroring snapshot_api.py's
// `"fileinfo": f` sibling key.
type envelope struct {
	API      string      `json:"_api"`
	Comment  string      `json:"_comment"`
	Result   interface{} `json:"result,omitempty"`
	FileInfo interface{} `json:"fileinfo,omitempty"`
}

// Server serves spec.md §6's read-only JSON API over an Engine.
type Server struct {
	engine *Engine
	log    *zap.Logger
	router chi.Router
}

// NewServer builds the chi route table for every endpoint in spec.md
// §6's table. Routing itself has no teacher analogue (pault.ag/go/archive
// never serves a read API); github.com/go-chi/chi/v5 is grounded on
// AKJUS-bsc-erigon's go.mod, chosen over that repo's httprouter and
// gorilla/websocket and over rpcpool-yellowstone-faithful's fasthttp
// as the best idiomatic fit for a path-parameter-heavy route table.
func NewServer(e *Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{engine: e, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequest)

	r.Get("/mr/timestamp/{archive}", s.handleTimestamps)
	r.Get("/mr/file", s.handleFiles)
	r.Get("/mr/file/{sha256}/info", s.handleFileInfo)
	r.Get("/mr/package", s.handlePackages)
	r.Get("/mr/package/{name}", s.handlePackageVersions)
	r.Get("/mr/package/{name}/{version}/srcfiles", s.handleSrcFiles)
	r.Get("/mr/binary/{name}", s.handleBinaryVersions)
	r.Get("/mr/binary/{name}/{version}/binfiles", s.handleBinFiles)
	r.Post("/mr/buildinfo", s.handleBuildInfo)

	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler, suitable for http.ListenAndServe
// directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("query request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	env.API = apiVersion
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeResult(w http.ResponseWriter, comment string, result interface{}, empty bool) {
	if empty {
		writeJSON(w, http.StatusNotFound, envelope{Comment: comment})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Comment: comment, Result: result})
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	log.Error("query handler error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, envelope{Comment: err.Error()})
}

func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	archive := chi.URLParam(r, "archive")
	ts, err := s.engine.Timestamps(r.Context(), archive)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "list of timestamps for "+archive, ts, len(ts) == 0)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.engine.Files(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "list of known filenames", files, len(files) == 0)
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	sha256 := chi.URLParam(r, "sha256")
	locs, ok, err := s.engine.FileInfo(r.Context(), sha256)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "locations for "+sha256, locs, !ok)
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.SourcePackages(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "distinct source package names", names, len(names) == 0)
}

func (s *Server) handlePackageVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	versions, err := s.engine.SourceVersions(r.Context(), name)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "versions of "+name, versions, len(versions) == 0)
}

func (s *Server) handleSrcFiles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	withLocations := r.URL.Query().Get("fileinfo") == "1"

	files, err := s.engine.SrcFiles(r.Context(), name, version, withLocations)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "source files for "+name+" "+version, files, len(files) == 0)
}

func (s *Server) handleBinaryVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	versions, err := s.engine.BinaryVersions(r.Context(), name)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "versions of "+name, versions, len(versions) == 0)
}

func (s *Server) handleBinFiles(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version := chi.URLParam(r, "version")
	withLocations := r.URL.Query().Get("fileinfo") == "1"

	files, err := s.engine.BinFiles(r.Context(), name, version, withLocations)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeResult(w, "binary files for "+name+" "+version, files, len(files) == 0)
}

// buildInfoUploadLimit caps the request body upload_buildinfo accepts,
// a .buildinfo file being a small control-file paragraph, never a
// multi-megabyte payload.
const buildInfoUploadLimit = 4 << 20

func (s *Server) handleBuildInfo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, buildInfoUploadLimit)
	deps, err := ParseBuildInfo(r.Body)
	if err != nil {
		if snaperr.IsKind(err, snaperr.ParseError) {
			writeJSON(w, http.StatusInternalServerError, envelope{Comment: err.Error()})
			return
		}
		writeError(w, s.log, err)
		return
	}

	suite := r.URL.Query().Get("suite_name")
	locations, notFound, err := s.engine.Reproducibility(r.Context(), deps, suite)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if len(notFound) > 0 {
		writeJSON(w, http.StatusNotFound, envelope{Comment: "not all packages found", Result: notFound})
		return
	}
	writeResult(w, "reproducible locations", locations, len(locations) == 0)
}

// Listen blocks serving s on addr until ctx is cancelled, mirroring the
// graceful-shutdown shape cmd/snapshot-api's main wires up.
func (s *Server) Listen(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
