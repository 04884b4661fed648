package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sha256Hex(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func TestFetchSmallVerifiesHash(t *testing.T) {
	body := []byte("hello snapshot mirror")
	want := sha256Hex(body)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	eng := New(srv.Client(), zaptest.NewLogger(t))
	dest := filepath.Join(dir, "blob")

	sum, err := eng.FetchSmall(context.Background(), srv.URL, dest, want)
	require.NoError(t, err)
	require.Equal(t, want, sum)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestFetchSmallHashMismatch(t *testing.T) {
	body := []byte("unexpected bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	eng := New(srv.Client(), zaptest.NewLogger(t))
	dest := filepath.Join(dir, "blob")

	wrongHash := "0000000000000000000000000000000000000000000000000000000000000000"[:64]
	_, err := eng.FetchSmall(context.Background(), srv.URL, dest, wrongHash)
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}

func TestFetchRangedResumesFromPartialFile(t *testing.T) {
	body := make([]byte, 3*1000*1000)
	for i := range body {
		body[i] = byte(i % 251)
	}
	want := sha256Hex(body)

	var rangedRequests int
	var firstRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")
		require.NotEmpty(t, rangeHdr)
		if rangedRequests == 0 {
			firstRange = rangeHdr
		}
		rangedRequests++

		var first, last int
		_, err := fmt.Sscanf(rangeHdr, "bytes=%d-%d", &first, &last)
		require.NoError(t, err)
		if last >= len(body) {
			last = len(body) - 1
		}
		w.Header().Set("Content-Range", "bytes "+strconv.Itoa(first)+"-"+strconv.Itoa(last)+"/"+strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[first : last+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	eng := New(srv.Client(), zaptest.NewLogger(t))
	eng.ChunkSize = 1000 * 1000 // force multiple chunks
	dest := filepath.Join(dir, "blob")

	// An earlier attempt left the first 500 bytes behind.
	require.NoError(t, os.WriteFile(dest+".part", body[:500], 0o644))

	sum, err := eng.FetchRanged(context.Background(), srv.URL, dest, int64(len(body)), want)
	require.NoError(t, err)
	require.Equal(t, want, sum)
	require.GreaterOrEqual(t, rangedRequests, 3)
	require.Equal(t, "bytes=500-1000499", firstRange)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, body, got)
}
