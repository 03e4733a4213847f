package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/planner"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

func testDownloadConfig() config.DownloadConfig {
	return config.DownloadConfig{
		Concurrency:    2,
		ChunkSizeBytes: 8192,
		TimeoutSeconds: 5,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 1, // milliseconds, keeps retry tests fast
			Factor:          1.0,
		},
	}
}

func newTestDownloader() *Downloader {
	return NewDownloader(testDownloadConfig(), metrics.NewNoOpMetricRecorder())
}

func jobFor(t *testing.T, url string) planner.DownloadJob {
	t.Helper()
	return planner.DownloadJob{
		Model:        "gfs",
		Date:         "20260830",
		Cycle:        "00",
		ForecastHour: 3,
		URL:          url,
		DestPath:     filepath.Join(t.TempDir(), "raw", "gfs.t00z.pgrb2.0p25.f003"),
	}
}

func TestDownloadWritesVerifiedFile(t *testing.T) {
	payload := []byte("GRIB fake payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	job := jobFor(t, srv.URL)
	require.NoError(t, newTestDownloader().Download(context.Background(), job))

	assert.FileExists(t, job.DestPath)
}

func TestDownloadRetriesTransientStatuses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered payload"))
	}))
	defer srv.Close()

	job := jobFor(t, srv.URL)
	require.NoError(t, newTestDownloader().Download(context.Background(), job))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDownloadGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&calls, 1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	job := jobFor(t, srv.URL)
	err := newTestDownloader().Download(context.Background(), job)
	assert.True(t, exception.IsTransferError(err))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.NoFileExists(t, job.DestPath)
}

func TestDownloadDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&calls, 1)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	job := jobFor(t, srv.URL)
	err := newTestDownloader().Download(context.Background(), job)
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDownloadRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := jobFor(t, srv.URL)
	err := newTestDownloader().Download(context.Background(), job)
	assert.True(t, exception.IsTransferError(err))
	assert.NoFileExists(t, job.DestPath)
}

func TestDownloadRejectsSizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "100")
			w.WriteHeader(http.StatusOK)
			return
		}
		// Announce a truncated body explicitly so the client sees a clean EOF.
		w.Header().Set("Content-Length", "5")
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	job := jobFor(t, srv.URL)
	err := newTestDownloader().Download(context.Background(), job)
	assert.True(t, exception.IsTransferError(err))
	assert.NoFileExists(t, job.DestPath)
}

func TestDownloadAllContinuesPastFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	jobs := []planner.DownloadJob{
		{Date: "20260830", Cycle: "00", ForecastHour: 0, URL: srv.URL + "/ok0", DestPath: filepath.Join(dir, "f000")},
		{Date: "20260830", Cycle: "00", ForecastHour: 3, URL: srv.URL + "/missing", DestPath: filepath.Join(dir, "f003")},
		{Date: "20260830", Cycle: "00", ForecastHour: 6, URL: srv.URL + "/ok6", DestPath: filepath.Join(dir, "f006")},
	}

	result := newTestDownloader().DownloadAll(context.Background(), jobs)

	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 3, result.Failed[0].Job.ForecastHour)
	assert.Error(t, result.Err())
	assert.FileExists(t, jobs[0].DestPath)
	assert.NoFileExists(t, jobs[1].DestPath)
	assert.FileExists(t, jobs[2].DestPath)
}

func TestDownloadAllEmptyBatch(t *testing.T) {
	result := newTestDownloader().DownloadAll(context.Background(), nil)
	assert.Zero(t, result.Succeeded)
	assert.NoError(t, result.Err())
}
