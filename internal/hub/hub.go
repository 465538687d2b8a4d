// Package hub downloads model weight files from a Hugging Face compatible hub.
//
// Two transfer modes exist. Accelerated splits a file into byte ranges that are
// fetched concurrently; it needs the HF_HUB_ENABLE_HF_TRANSFER toggle and a
// server that honours range requests. Standard is a single stream that resumes
// from a previous partial download. When the accelerated mode cannot be used the
// error wraps ErrTransferUnavailable so callers can fall back to Standard.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"handscribe/internal/common/fsutil"
)

// Mode selects the download transport.
type Mode string

const (
	Accelerated Mode = "accelerated"
	Standard    Mode = "standard"
)

// Environment toggles controlling the transport.
const (
	EnvEnableTransfer   = "HF_HUB_ENABLE_HF_TRANSFER"
	EnvDisableTelemetry = "HF_HUB_DISABLE_TELEMETRY"
)

// ErrTransferUnavailable classifies failures of the accelerated mode that a
// standard download can recover from.
var ErrTransferUnavailable = errors.New("accelerated transfer unavailable")

// IsTransferUnavailable reports whether err should trigger the standard fallback.
func IsTransferUnavailable(err error) bool { return errors.Is(err, ErrTransferUnavailable) }

// Toggles is the environment state read at the start of a fetch.
type Toggles struct {
	AcceleratedEnabled bool
	TelemetryDisabled  bool
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// TogglesFromEnv reads both toggles through getenv (os.Getenv when nil).
func TogglesFromEnv(getenv func(string) string) Toggles {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Toggles{
		AcceleratedEnabled: truthy(getenv(EnvEnableTransfer)),
		TelemetryDisabled:  truthy(getenv(EnvDisableTelemetry)),
	}
}

// Progress is called as bytes arrive.
type Progress func(file string, downloaded, total int64)

// Client fetches files of one repository revision into a local cache.
type Client struct {
	Endpoint    string
	Repo        string
	Revision    string
	CacheDir    string
	Token       string
	Connections int
	HTTPClient  *http.Client
	Progress    Progress
	Getenv      func(string) string
	Log         zerolog.Logger
	Version     string
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// URL returns the resolve URL of file.
func (c *Client) URL(file string) string {
	rev := c.Revision
	if rev == "" {
		rev = "main"
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimRight(c.Endpoint, "/"), c.Repo, rev, file)
}

// LocalPath returns where file is stored once downloaded.
func (c *Client) LocalPath(file string) (string, error) {
	dir, err := fsutil.ExpandHome(c.CacheDir)
	if err != nil {
		return "", err
	}
	repoDir := strings.ReplaceAll(c.Repo, "/", "--")
	return filepath.Join(dir, repoDir, filepath.Base(file)), nil
}

// Fetch returns the local path of file, downloading it with mode when it is not
// cached yet.
func (c *Client) Fetch(ctx context.Context, file string, mode Mode) (string, error) {
	dest, err := c.LocalPath(file)
	if err != nil {
		return "", err
	}
	if _, ok := fsutil.RegularFile(dest); ok {
		c.Log.Debug().Str("file", file).Str("path", dest).Msg("hub cache hit")
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	toggles := TogglesFromEnv(c.Getenv)
	c.Log.Info().Str("file", file).Str("mode", string(mode)).Msg("hub download start")
	switch mode {
	case Accelerated:
		err = c.fetchParallel(ctx, file, dest, toggles)
	default:
		err = c.fetchStream(ctx, file, dest, toggles)
	}
	if err != nil {
		return "", err
	}
	c.Log.Info().Str("file", file).Str("path", dest).Msg("hub download done")
	return dest, nil
}

func (c *Client) newRequest(ctx context.Context, method, file string, t Toggles) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.URL(file), nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("User-Agent", c.userAgent(t))
	return req, nil
}

func (c *Client) userAgent(t Toggles) string {
	if t.TelemetryDisabled {
		return "handscribe"
	}
	v := c.Version
	if v == "" {
		v = "dev"
	}
	return fmt.Sprintf("handscribe/%s; go/%s; hf_transfer/%t", v, runtime.Version(), t.AcceleratedEnabled)
}

func (c *Client) report(file string, downloaded, total int64) {
	if c.Progress != nil {
		c.Progress(file, downloaded, total)
	}
}

// fetchParallel downloads file as concurrent byte ranges.
func (c *Client) fetchParallel(ctx context.Context, file, dest string, t Toggles) error {
	if !t.AcceleratedEnabled {
		return fmt.Errorf("%w: %s is not enabled", ErrTransferUnavailable, EnvEnableTransfer)
	}
	head, err := c.newRequest(ctx, http.MethodHead, file, t)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(head)
	if err != nil {
		return fmt.Errorf("head %s: %w", file, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("head %s: status %d", file, resp.StatusCode)
	}
	total := resp.ContentLength
	if !strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes") || total <= 0 {
		return fmt.Errorf("%w: server does not support range requests for %s", ErrTransferUnavailable, file)
	}

	conns := c.Connections
	if conns <= 0 {
		conns = 1
	}
	if int64(conns) > total {
		conns = int(total)
	}
	chunk := (total + int64(conns) - 1) / int64(conns)

	tmp := dest + ".parallel"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	if err := f.Truncate(total); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("allocate file: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg         sync.WaitGroup
		once       sync.Once
		firstErr   error
		downloaded atomic.Int64
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for start := int64(0); start < total; start += chunk {
		end := start + chunk - 1
		if end >= total {
			end = total - 1
		}
		wg.Add(1)
		go func(start, end int64) {
			defer wg.Done()
			if err := c.fetchRange(ctx, file, f, start, end, t, func(n int64) {
				c.report(file, downloaded.Add(n), total)
			}); err != nil {
				fail(err)
			}
		}(start, end)
	}
	wg.Wait()

	if firstErr == nil {
		firstErr = f.Sync()
	}
	if cerr := f.Close(); firstErr == nil {
		firstErr = cerr
	}
	if firstErr != nil {
		os.Remove(tmp)
		return firstErr
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

type countingWriter struct {
	w   io.Writer
	add func(int64)
}

func (cw countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.add(int64(n))
	}
	return n, err
}

func (c *Client) fetchRange(ctx context.Context, file string, f *os.File, start, end int64, t Toggles, add func(int64)) error {
	req, err := c.newRequest(ctx, http.MethodGet, file, t)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("range %d-%d of %s: %w", start, end, file, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: range request for %s answered with status %d", ErrTransferUnavailable, file, resp.StatusCode)
	}
	want := end - start + 1
	n, err := io.Copy(countingWriter{w: io.NewOffsetWriter(f, start), add: add}, io.LimitReader(resp.Body, want))
	if err != nil {
		return fmt.Errorf("range %d-%d of %s: %w", start, end, file, err)
	}
	if n != want {
		return fmt.Errorf("range %d-%d of %s: short body (%d of %d bytes)", start, end, file, n, want)
	}
	return nil
}

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// fetchStream downloads file in one request, resuming from dest.partial. A
// partial the server cannot resume is discarded and the download restarts once
// from the first byte.
func (c *Client) fetchStream(ctx context.Context, file, dest string, t Toggles) error {
	err := c.streamOnce(ctx, file, dest, t)
	if !errors.Is(err, errRangeNotSatisfiable) {
		return err
	}
	c.Log.Warn().Err(err).Str("file", file).Msg("partial download cannot be resumed, restarting")
	if rerr := os.Remove(dest + ".partial"); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		return fmt.Errorf("remove partial: %w", rerr)
	}
	return c.streamOnce(ctx, file, dest, t)
}

func (c *Client) streamOnce(ctx context.Context, file, dest string, t Toggles) error {
	partial := dest + ".partial"
	var startByte int64
	if info, err := os.Stat(partial); err == nil {
		startByte = info.Size()
	}

	req, err := c.newRequest(ctx, http.MethodGet, file, t)
	if err != nil {
		return err
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", file, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		// Server ignored the range; start over.
		startByte = 0
		flags |= os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		if startByte > 0 && contentRangeSize(resp.Header.Get("Content-Range")) == startByte {
			// The partial already holds the whole file.
			c.report(file, startByte, startByte)
			if err := os.Rename(partial, dest); err != nil {
				return fmt.Errorf("rename file: %w", err)
			}
			return nil
		}
		return fmt.Errorf("download %s: %w (resume at byte %d)", file, errRangeNotSatisfiable, startByte)
	default:
		return fmt.Errorf("download %s: status %d", file, resp.StatusCode)
	}
	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = resp.ContentLength + startByte
	}

	f, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	downloaded := startByte
	_, err = io.Copy(countingWriter{w: f, add: func(n int64) {
		downloaded += n
		c.report(file, downloaded, total)
	}}, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if total >= 0 && downloaded != total {
		return fmt.Errorf("download %s: incomplete (%d of %d bytes)", file, downloaded, total)
	}
	if err := os.Rename(partial, dest); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// contentRangeSize returns the complete length from a "bytes */N" header, or -1.
func contentRangeSize(h string) int64 {
	rest, ok := strings.CutPrefix(h, "bytes */")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
