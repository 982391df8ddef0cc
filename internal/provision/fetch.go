package provision

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/javanstorm/vmbundle/internal/version"
	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// fetcher downloads a restore image to dest.
type fetcher interface {
	fetch(ctx context.Context, dest string, progress hypervisor.ProgressFunc) error
}

// engineFetcher asks the engine for the latest supported image.
type engineFetcher struct {
	engine hypervisor.Engine
}

func (f engineFetcher) fetch(ctx context.Context, dest string, progress hypervisor.ProgressFunc) error {
	if err := f.engine.FetchRestoreImage(ctx, dest, progress); err != nil {
		return &FetchError{Kind: FetchEngine, Source: f.engine.Info().Name, Err: err}
	}
	return nil
}

// httpFetcher downloads from a fixed URL.
type httpFetcher struct {
	client *http.Client
	url    string
}

func (f httpFetcher) fetch(ctx context.Context, dest string, progress hypervisor.ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return &FetchError{Kind: FetchNetwork, Source: f.url, Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := f.client.Do(req)
	if err != nil {
		return &FetchError{Kind: FetchNetwork, Source: f.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &FetchError{Kind: FetchBadResponse, Source: f.url, Status: resp.StatusCode}
	}

	out, err := os.Create(dest)
	if err != nil {
		return ioError("create", dest, "", err)
	}
	body := &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return &FetchError{Kind: FetchNetwork, Source: f.url, Err: err}
	}
	if err := out.Close(); err != nil {
		return ioError("write", dest, "", err)
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

// progressReader reports the fraction of total read so far. Reports are
// coalesced to whole percent steps.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	last  int64
	fn    hypervisor.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.fn != nil && p.total > 0 {
		pct := p.read * 100 / p.total
		if pct > p.last && pct < 100 {
			p.last = pct
			p.fn(float64(pct) / 100)
		}
	}
	return n, err
}
