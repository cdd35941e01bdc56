package provider

import (
	"FetchVault/model"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
	"golang.org/x/time/rate"
)

func testClient(srv *httptest.Server) *AllDebrid {
	return &AllDebrid{
		baseURL: srv.URL,
		apiKey:  "test-key",
		agent:   "test-agent",
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

func TestResolveDirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/link/unlock", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-agent", r.Form.Get("agent"))
		assert.Equal(t, "https://host/file.iso", r.Form.Get("link"))
		fmt.Fprint(w, `{"status":"success","data":{"link":"https://cdn/file.iso","filename":"file.iso","filesize":1234}}`)
	}))
	defer srv.Close()

	res, err := testClient(srv).Resolve(context.Background(), model.SourceDirectURL, "https://host/file.iso")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, res.Status)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "file.iso", res.Files[0].Name)
	assert.Equal(t, int64(1234), res.Files[0].SizeBytes)
	assert.Equal(t, "https://cdn/file.iso", res.Files[0].Link)
}

func TestResolveMagnetPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/magnet/upload":
			fmt.Fprint(w, `{"status":"success","data":{"magnets":[{"id":42}]}}`)
		case "/magnet/status":
			require.Equal(t, "42", r.URL.Query().Get("id"))
			fmt.Fprint(w, `{"status":"success","data":{"magnets":{"status":"downloading","links":[]}}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	res, err := testClient(srv).Resolve(context.Background(), model.SourceSwarm, "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, "42", res.Ref)
	assert.Equal(t, "downloading", res.Message)
}

func TestPollStatusReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"magnets":{"status":"ready","links":[
			{"link":"https://p/a","filename":"a.mkv","size":100},
			{"link":"https://p/b","filename":"b.srt","size":5}
		]}}}`)
	}))
	defer srv.Close()

	res, err := testClient(srv).PollStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, res.Status)
	require.Len(t, res.Files, 2)
	assert.Equal(t, 0, res.Files[0].Index)
	assert.Equal(t, "a.mkv", res.Files[0].Name)
	assert.Equal(t, 1, res.Files[1].Index)
	assert.Equal(t, int64(5), res.Files[1].SizeBytes)
}

func TestPollStatusProviderFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"magnets":{"status":"error","error":{"code":"MAGNET_PROCESSING","message":"no seeders found"}}}}`)
	}))
	defer srv.Close()

	res, err := testClient(srv).PollStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "no seeders found", res.Message)
}

func TestCallAPIErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","error":{"code":"AUTH_BAD_APIKEY","message":"The auth apikey is invalid"}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Unlock(context.Background(), "https://p/a")
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
	assert.Equal(t, "The auth apikey is invalid", pe.Message)
}

func TestCallServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv).PollStatus(context.Background(), "42")
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Transient)
}

func TestUnlockRejectsNonHTTPLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"link":""}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv).Unlock(context.Background(), "https://p/a")
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
}
