/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package concurrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harekrishnarai/flowscope/pkg/constants"
	"github.com/harekrishnarai/flowscope/pkg/engine"
	flowerrors "github.com/harekrishnarai/flowscope/pkg/errors"
	"github.com/harekrishnarai/flowscope/pkg/logging"
	"github.com/harekrishnarai/flowscope/pkg/parser"
)

// Scanner analyzes one document
type Scanner interface {
	Scan(ctx context.Context, workflow parser.WorkflowFile) (*engine.Result, error)
}

// ProcessorConfig contains configuration for concurrent processing
type ProcessorConfig struct {
	// MaxWorkers defines the maximum number of concurrent workers
	// If 0, uses number of CPU cores
	MaxWorkers int

	// Timeout for processing a single workflow file
	DocumentTimeout time.Duration

	// Timeout for the entire analysis operation
	TotalTimeout time.Duration

	// Progress is written here when set
	Progress io.Writer
}

// DefaultProcessorConfig returns a default configuration
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		MaxWorkers:      runtime.NumCPU(),
		DocumentTimeout: constants.DefaultDocumentTimeout * time.Second,
		TotalTimeout:    constants.DefaultTotalTimeout * time.Second,
	}
}

// DocumentResult is the outcome for one document. Exactly one of Result and
// Err is set.
type DocumentResult struct {
	Document string
	Result   *engine.Result
	Err      error
	Duration time.Duration
}

// ProgressReporter handles progress reporting during concurrent processing
type ProgressReporter struct {
	Total     int
	Completed int
	mutex     sync.Mutex
	out       io.Writer
}

// NewProgressReporter creates a new progress reporter. A nil writer keeps
// count without printing.
func NewProgressReporter(total int, out io.Writer) *ProgressReporter {
	return &ProgressReporter{Total: total, out: out}
}

// Update increments the completed count and reports progress
func (pr *ProgressReporter) Update(document string) {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()

	pr.Completed++

	if pr.out != nil && pr.Total > 0 {
		percentage := float64(pr.Completed) / float64(pr.Total) * 100
		fmt.Fprintf(pr.out, "\rAnalyzing workflows... [%d/%d] (%.1f%%) - %s\033[K",
			pr.Completed, pr.Total, percentage, document)

		if pr.Completed == pr.Total {
			fmt.Fprintln(pr.out)
		}
	}
}

// GetProgress returns current progress information
func (pr *ProgressReporter) GetProgress() (completed, total int) {
	pr.mutex.Lock()
	defer pr.mutex.Unlock()
	return pr.Completed, pr.Total
}

// Processor fans document analysis out over a bounded set of goroutines
type Processor struct {
	config   ProcessorConfig
	scanner  Scanner
	reporter *ProgressReporter
	log      *slog.Logger
}

// NewProcessor creates a new concurrent processor
func NewProcessor(scanner Scanner, config *ProcessorConfig) *Processor {
	if config == nil {
		config = DefaultProcessorConfig()
	}
	cfg := *config

	// Ensure we have at least 1 worker
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}

	return &Processor{
		config:  cfg,
		scanner: scanner,
		log:     logging.WithComponent("concurrent"),
	}
}

// Process analyzes every document and returns one result per document in
// input order. A failed or timed-out document does not stop the others.
// The returned error is non-nil only when the overall budget or the parent
// context ends the run; results gathered so far are still returned.
func (p *Processor) Process(ctx context.Context, documents []parser.WorkflowFile) ([]DocumentResult, error) {
	results := make([]DocumentResult, len(documents))
	if len(documents) == 0 {
		return results, nil
	}

	if p.config.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TotalTimeout)
		defer cancel()
	}

	p.reporter = NewProgressReporter(len(documents), p.config.Progress)

	g := &errgroup.Group{}
	g.SetLimit(p.config.MaxWorkers)

	for i, doc := range documents {
		results[i].Document = doc.Path
		if ctx.Err() != nil {
			results[i].Err = ctx.Err()
			continue
		}
		g.Go(func() error {
			results[i] = p.processDocument(ctx, doc)
			p.reporter.Update(doc.Name)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("analysis stopped: %w", err)
	}
	return results, nil
}

// processDocument analyzes a single document under the per-document budget.
// The scan runs in its own goroutine so the budget holds even while a stage
// is busy; a scan that overruns finishes in the background and is discarded.
func (p *Processor) processDocument(ctx context.Context, doc parser.WorkflowFile) DocumentResult {
	start := time.Now()
	result := DocumentResult{Document: doc.Path}

	docCtx := ctx
	if p.config.DocumentTimeout > 0 {
		var cancel context.CancelFunc
		docCtx, cancel = context.WithTimeout(ctx, p.config.DocumentTimeout)
		defer cancel()
	}

	type outcome struct {
		res *engine.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.scanner.Scan(docCtx, doc)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		result.Result, result.Err = o.res, o.err
	case <-docCtx.Done():
		result.Err = docCtx.Err()
	}
	result.Duration = time.Since(start)

	if errors.Is(result.Err, context.DeadlineExceeded) && ctx.Err() == nil {
		result.Err = flowerrors.ErrAnalysisTimeout(doc.Path, p.config.DocumentTimeout)
		p.log.Warn("document analysis timed out",
			slog.String("document", doc.Path),
			slog.Duration("budget", p.config.DocumentTimeout))
	} else if result.Err != nil {
		p.log.Warn("document analysis failed",
			slog.String("document", doc.Path),
			slog.String("error", result.Err.Error()))
	}

	return result
}

// GetStats returns processing statistics
func (p *Processor) GetStats() (completed, total int, config ProcessorConfig) {
	if p.reporter != nil {
		completed, total = p.reporter.GetProgress()
	}
	return completed, total, p.config
}
