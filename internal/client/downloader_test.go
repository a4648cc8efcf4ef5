package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/generatecover/api/internal/model"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, downloadUserAgent, r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/ok.jpg":
			_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
		case "/empty.jpg":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewHTTPDownloader()

	data, err := d.Download(context.Background(), srv.URL+"/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, data)

	for _, u := range []string{srv.URL + "/empty.jpg", srv.URL + "/missing.jpg", "not a url", "ftp://x/y"} {
		_, err := d.Download(context.Background(), u)
		assert.Equal(t, model.ErrKindDownload, model.KindOf(err), u)
	}
}
