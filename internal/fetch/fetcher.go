package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/moegi-dl/moegi/internal/utils"
)

const readBufferSize = 64 * 1024

// ErrDownloadExhausted is returned when every retry attempt on the primary
// URL and on every mirror has failed for some block. The owning batch is
// aborted; bytes already written stay on disk for a later resume.
var ErrDownloadExhausted = errors.New("fetch: retries exhausted on primary and all mirrors")

// RetryPolicy bounds the attempts made per URL before failing over to the
// next mirror. Backoff grows linearly with the attempt number.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 500 * time.Millisecond}
}

// Task is one block fetch scheduled against a stream's buffer.
type Task struct {
	URL     string
	Mirrors []string
	Block   Block
	Buf     *Buffer
}

// Fetcher downloads blocks over a bounded admission gate with per-URL
// retries and mirror failover. The optional rate limiter throttles body
// reads across all concurrent fetches.
type Fetcher struct {
	client  utils.HTTPDoer
	retry   RetryPolicy
	gate    *Gate
	limiter *rate.Limiter
}

func NewFetcher(client utils.HTTPDoer, retry RetryPolicy, gate *Gate, limiter *rate.Limiter) *Fetcher {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Fetcher{client: client, retry: retry, gate: gate, limiter: limiter}
}

// FetchBlock fetches one block, trying the primary URL up to the retry
// budget and then each mirror in declared order with the same budget. A
// block only succeeds when the full expected length was received and
// written at the block's offset.
func (f *Fetcher) FetchBlock(ctx context.Context, primary string, mirrors []string, block Block, buf *Buffer) error {
	log := utils.GetLogger("fetch")
	urls := make([]string, 0, len(mirrors)+1)
	urls = append(urls, primary)
	urls = append(urls, mirrors...)
	for _, u := range urls {
		for attempt := 0; attempt < f.retry.MaxAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(time.Duration(attempt) * f.retry.Backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			err := f.fetchOnce(ctx, u, block, buf)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Str("url", u).Int64("offset", block.Offset).Int("attempt", attempt+1).Err(err).Msg("Block fetch attempt failed")
		}
	}
	return fmt.Errorf("%w (offset %d)", ErrDownloadExhausted, block.Offset)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, block Block, buf *Buffer) error {
	if err := f.gate.Acquire(ctx); err != nil {
		return err
	}
	defer f.gate.Release()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	if header := block.RangeHeader(); header != "" {
		req.Header.Set("Range", header)
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	readBuf := make([]byte, readBufferSize)
	written := int64(0)
	for {
		n, err := resp.Body.Read(readBuf)
		if n > 0 {
			if f.limiter != nil {
				if err := f.limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, werr := buf.WriteAt(readBuf[:n], block.Offset+written); werr != nil {
				return fmt.Errorf("error writing block at offset %d: %v", block.Offset+written, werr)
			}
			written += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	if block.Length != SizeUnknown && written != block.Length {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", block.Length, written)
	}
	return nil
}

// RunBatch executes the tasks concurrently in the given order, bounded by
// the gate. The first terminal failure cancels every other task; there is
// no partial-success completion, though buffers keep whatever bytes were
// written for a future resume.
func (f *Fetcher) RunBatch(ctx context.Context, tasks []Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error
	for _, t := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			if err := f.FetchBlock(ctx, t.URL, t.Mirrors, t.Block, t.Buf); err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(t)
	}
	wg.Wait()
	return firstErr
}
