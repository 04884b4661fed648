package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, apiVersion, env.API)
	return env
}

func TestHandleTimestamps(t *testing.T) {
	e := seedIndex(t)
	srv := NewServer(e, nil)

	req := httptest.NewRequest(http.MethodGet, "/mr/timestamp/debian", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	require.Equal(t, []interface{}{"20210101T000000Z"}, env.Result)
}

func TestHandleTimestampsUnknownArchiveIs404(t *testing.T) {
	e := seedIndex(t)
	srv := NewServer(e, nil)

	req := httptest.NewRequest(http.MethodGet, "/mr/timestamp/ghost", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleFileInfo(t *testing.T) {
	e := seedIndex(t)
	srv := NewServer(e, nil)

	hash := "aaaa000000000000000000000000000000000000000000000000000000000000"[:64]
	req := httptest.NewRequest(http.MethodGet, "/mr/file/"+hash+"/info", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	decodeEnvelope(t, w)
}

func TestHandleFileInfoUnknownHashIs404(t *testing.T) {
	e := seedIndex(t)
	srv := NewServer(e, nil)

	req := httptest.NewRequest(http.MethodGet, "/mr/file/deadbeef/info", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSrcFilesWithFileInfoQueryParam(t *testing.T) {
	e := seedIndex(t)
	srv := NewServer(e, nil)

	req := httptest.NewRequest(http.MethodGet, "/mr/package/foo/1.0-1/srcfiles?fileinfo=1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	results, ok := env.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 1)
	first := results[0].(map[string]interface{})
	require.NotEmpty(t, first["Locations"])
}

func TestHandleBuildInfoNotFoundReturns404WithList(t *testing.T) {
	e := seedReproIndex(t)
	srv := NewServer(e, nil)

	req := httptest.NewRequest(http.MethodPost, "/mr/buildinfo", strings.NewReader(sampleBuildInfo))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	env := decodeEnvelope(t, w)
	require.NotEmpty(t, env.Result)
}

func TestHandleBuildInfoMalformedManifestIs500(t *testing.T) {
	e := seedReproIndex(t)
	srv := NewServer(e, nil)

	bad := strings.Replace(sampleBuildInfo, "gcc-12 (= 12.2.0-3)", "gcc-12 >= 12.2.0-3", 1)
	req := httptest.NewRequest(http.MethodPost, "/mr/buildinfo", strings.NewReader(bad))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleBuildInfoReproducibleLocation(t *testing.T) {
	e := seedReproIndex(t)
	srv := NewServer(e, nil)

	manifest := `Format: 1.0-Upload-Flags
Source: foo
Binary: foo
Version: 1.0-1
Build-Architecture: amd64
Installed-Build-Depends:
 foo (= 1.0-1),
 bar (= 2.0-1),
`
	req := httptest.NewRequest(http.MethodPost, "/mr/buildinfo", strings.NewReader(manifest))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	results, ok := env.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 1)
	loc := results[0].(map[string]interface{})
	require.Equal(t, "debian", loc["Archive"])
	require.Equal(t, []interface{}{"20210102T000000Z"}, loc["Timestamps"])
}
