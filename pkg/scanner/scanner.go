package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/84hero/evm-activity/pkg/metrics"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultMaxConcurrent is the number of explorer requests in flight per batch.
const DefaultMaxConcurrent = 5

// ErrProbePanicked is returned when a prober panics instead of answering.
var ErrProbePanicked = errors.New("activity probe panicked")

type Config struct {
	ChunkSize     uint64 `mapstructure:"chunk_size"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// Prober answers whether an address has any transaction in an inclusive block range.
type Prober interface {
	HasActivityInRange(ctx context.Context, address, chainSlug string, startBlock, endBlock uint64) bool
}

// ProgressFunc is called after each batch with the number of chunks checked so far.
type ProgressFunc func(checked, total int)

type Scanner struct {
	prober Prober
	config Config
}

func New(prober Prober, cfg Config) *Scanner {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Scanner{
		prober: prober,
		config: cfg,
	}
}

// Config returns the effective configuration.
func (s *Scanner) Config() Config {
	return s.config
}

// ScanRange plans [start, end] into chunks and scans them.
func (s *Scanner) ScanRange(ctx context.Context, address, chainSlug string, start, end uint64, onProgress ProgressFunc) (bool, error) {
	return s.Scan(ctx, address, chainSlug, Plan(start, end, s.config.ChunkSize), onProgress)
}

// Scan probes chunks in batches of MaxConcurrent. Chunks of a batch are probed concurrently
// and OR-ed; batches run strictly in order and scanning stops at the first positive batch.
// Errors are limited to context cancellation and a panicking prober; neither is a verdict.
func (s *Scanner) Scan(ctx context.Context, address, chainSlug string, chunks []Chunk, onProgress ProgressFunc) (bool, error) {
	total := len(chunks)
	checked := 0

	for i := 0; i < total; i += s.config.MaxConcurrent {
		// A cancelled context makes every probe report false, which must not pass for a verdict.
		if err := ctx.Err(); err != nil {
			return false, err
		}

		end := i + s.config.MaxConcurrent
		if end > total {
			end = total
		}
		batch := chunks[i:end]

		found, err := s.probeBatch(ctx, address, chainSlug, batch)
		metrics.AddChunksProbed(chainSlug, len(batch))
		if err != nil {
			return false, err
		}

		checked += len(batch)
		if onProgress != nil {
			onProgress(checked, total)
		}

		if found {
			log.Debug("Activity found", "chain", chainSlug, "address", address, "from", batch[0].Start, "to", batch[len(batch)-1].End, "checked", checked, "total", total)
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}

	return false, nil
}

func (s *Scanner) probeBatch(ctx context.Context, address, chainSlug string, batch []Chunk) (bool, error) {
	results := make([]bool, len(batch))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		panicErr error
	)
	for idx, c := range batch {
		wg.Add(1)
		go func(idx int, c Chunk) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					panicErr = fmt.Errorf("%w: chunk %d-%d: %v", ErrProbePanicked, c.Start, c.End, r)
					mu.Unlock()
				}
			}()
			results[idx] = s.prober.HasActivityInRange(ctx, address, chainSlug, c.Start, c.End)
		}(idx, c)
	}
	wg.Wait()

	if panicErr != nil {
		return false, panicErr
	}
	for _, r := range results {
		if r {
			return true, nil
		}
	}
	return false, nil
}
