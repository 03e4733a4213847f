// Package transport downloads planned files over HTTP with retry, size
// verification, and bounded concurrency.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/metrics"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/planner"
	"github.com/tigerroll/nwpfetch/pkg/nwp/engine/retry"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const moduleName = "transport"

// retryableStatus lists HTTP responses worth retrying: throttling and
// transient upstream failures.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// FailedJob pairs a job with the error that ended it.
type FailedJob struct {
	Job planner.DownloadJob
	Err error
}

// BatchResult summarizes a batch download. A batch with failures is still a
// partial success; callers decide whether that is acceptable.
type BatchResult struct {
	Succeeded int
	Failed    []FailedJob
}

// Err aggregates the batch's failures, or nil when everything succeeded.
func (r *BatchResult) Err() error {
	var agg *multierror.Error
	for _, f := range r.Failed {
		agg = multierror.Append(agg, f.Err)
	}
	return agg.ErrorOrNil()
}

// Downloader fetches files with streaming writes and a retry policy.
type Downloader struct {
	client      *http.Client
	policy      retry.RetryPolicy
	chunkSize   int
	concurrency int
	recorder    metrics.MetricRecorder
}

// NewDownloader creates a downloader from the download configuration.
func NewDownloader(cfg config.DownloadConfig, recorder metrics.MetricRecorder) *Downloader {
	policy := retry.NewDefaultRetryPolicyFactory().Create(
		cfg.Retry.MaxAttempts,
		time.Duration(cfg.Retry.InitialInterval)*time.Millisecond,
		cfg.Retry.Factor,
		nil,
	)
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = 8192
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Downloader{
		client:      &http.Client{Timeout: timeout},
		policy:      policy,
		chunkSize:   chunkSize,
		concurrency: concurrency,
		recorder:    recorder,
	}
}

// Download fetches one job, retrying on transient failures. The destination
// file only exists after a fully verified transfer.
func (d *Downloader) Download(ctx context.Context, job planner.DownloadJob) error {
	maxAttempts := d.policy.GetMaxAttempts()
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		written, err := d.attempt(ctx, job)
		if err == nil {
			d.recorder.RecordDownload(ctx, "success", written)
			logger.Debugf("Downloaded '%s' (%d bytes)", job.DestPath, written)
			return nil
		}
		lastErr = err

		if !d.policy.ShouldRetry(err) || attempt == maxAttempts {
			break
		}
		backoff := d.policy.GetBackoffInterval(attempt)
		logger.Warnf("Download of %s %sZ f%03d failed (attempt %d/%d), retrying in %s: %s",
			job.Date, job.Cycle, job.ForecastHour, attempt, maxAttempts, backoff, exception.ExtractErrorMessage(err))
		select {
		case <-ctx.Done():
			d.recorder.RecordDownload(ctx, "failure", 0)
			return exception.NewTransferError(moduleName, "download canceled", ctx.Err())
		case <-time.After(backoff):
		}
	}

	d.recorder.RecordDownload(ctx, "failure", 0)
	if exception.IsBatchError(lastErr) {
		return lastErr
	}
	return exception.NewTransferError(moduleName,
		fmt.Sprintf("failed to download '%s'", job.URL), lastErr)
}

// attempt performs one transfer and returns the number of bytes written.
func (d *Downloader) attempt(ctx context.Context, job planner.DownloadJob) (int64, error) {
	expected := d.expectedSize(ctx, job.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return 0, exception.NewBatchError(moduleName, fmt.Sprintf("invalid URL '%s'", job.URL), err, false, false)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, exception.NewTransferError(moduleName, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("server returned %s for '%s'", resp.Status, job.URL)
		if retryableStatus[resp.StatusCode] {
			return 0, exception.NewTransferError(moduleName, msg, nil)
		}
		return 0, exception.NewBatchError(moduleName, msg, nil, true, false)
	}

	if err := os.MkdirAll(filepath.Dir(job.DestPath), 0o755); err != nil {
		return 0, exception.NewBatchError(moduleName,
			fmt.Sprintf("failed to create directory for '%s'", job.DestPath), err, false, false)
	}
	out, err := os.Create(job.DestPath)
	if err != nil {
		return 0, exception.NewBatchError(moduleName,
			fmt.Sprintf("failed to create '%s'", job.DestPath), err, false, false)
	}

	written, copyErr := io.CopyBuffer(out, resp.Body, make([]byte, d.chunkSize))
	closeErr := out.Close()

	if copyErr != nil {
		d.removePartial(job.DestPath)
		return 0, exception.NewTransferError(moduleName, "transfer interrupted", copyErr)
	}
	if closeErr != nil {
		d.removePartial(job.DestPath)
		return 0, exception.NewTransferError(moduleName, "failed to flush destination file", closeErr)
	}
	if written == 0 {
		d.removePartial(job.DestPath)
		return 0, exception.NewTransferError(moduleName,
			fmt.Sprintf("server returned an empty file for '%s'", job.URL), nil)
	}
	if expected >= 0 && written != expected {
		d.removePartial(job.DestPath)
		return 0, exception.NewTransferError(moduleName,
			fmt.Sprintf("size mismatch for '%s': got %d bytes, expected %d", job.URL, written, expected), nil)
	}
	return written, nil
}

// expectedSize asks the server for the Content-Length via HEAD. A failed
// HEAD only disables the size check; the download itself proceeds.
func (d *Downloader) expectedSize(ctx context.Context, url string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1
	}
	resp, err := d.client.Do(req)
	if err != nil {
		logger.Debugf("HEAD request for '%s' failed: %v", url, err)
		return -1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return -1
	}
	return resp.ContentLength
}

func (d *Downloader) removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Failed to remove partial file '%s': %v", path, err)
	}
}

// DownloadAll fetches the jobs with bounded concurrency. A failing job does
// not stop the batch; failures are collected in the result.
func (d *Downloader) DownloadAll(ctx context.Context, jobs []planner.DownloadJob) *BatchResult {
	result := &BatchResult{}
	if len(jobs) == 0 {
		return result
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobCh := make(chan planner.DownloadJob)

	workers := d.concurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				err := d.Download(ctx, job)
				mu.Lock()
				if err != nil {
					logger.Errorf("Download failed for %s %sZ f%03d: %v", job.Date, job.Cycle, job.ForecastHour, err)
					result.Failed = append(result.Failed, FailedJob{Job: job, Err: err})
				} else {
					result.Succeeded++
				}
				mu.Unlock()
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()

	logger.Infof("Batch download finished: %d succeeded, %d failed", result.Succeeded, len(result.Failed))
	return result
}
