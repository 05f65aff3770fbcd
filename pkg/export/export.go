// Package export renders the read API of one suite into a directory of
// static JSON documents laid out like the URL space:
//
//	machines.json
//	machines/<id>.json
//	orders/<id>.json
//	runs/<id>.json
//
// Each document is byte-for-byte what the server returns for the matching
// path, so the tree can be published to any static file host.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/llvm/lnt/pkg/api/query"
	"github.com/llvm/lnt/pkg/api/store"
	"github.com/llvm/lnt/pkg/fsutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of documents rendered in parallel when
// no concurrency is configured.
const DefaultConcurrency = 4

// Result summarizes an export.
type Result struct {
	Files int64
	Bytes int64
}

// Exporter writes static API documents for a store.
type Exporter struct {
	log         logrus.FieldLogger
	store       store.Store
	query       *query.Service
	concurrency int
	owner       *fsutil.OwnerConfig
}

// NewExporter creates an Exporter reading from st. version is reported in
// the generated_by field of every document. owner may be nil.
func NewExporter(
	log logrus.FieldLogger,
	st store.Store,
	version string,
	concurrency int,
	owner *fsutil.OwnerConfig,
) *Exporter {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	return &Exporter{
		log:         log.WithField("component", "export"),
		store:       st,
		query:       query.NewService(st, version),
		concurrency: concurrency,
		owner:       owner,
	}
}

// document renders one file.
type document struct {
	path   string
	render func(ctx context.Context) (any, error)
}

// Export writes every document of suite below outDir.
func (e *Exporter) Export(
	ctx context.Context, suite, outDir string,
) (*Result, error) {
	start := time.Now()

	docs, err := e.plan(ctx, suite)
	if err != nil {
		return nil, err
	}

	if err := fsutil.MkdirAll(outDir, 0o755, e.owner); err != nil {
		return nil, fmt.Errorf("creating %s: %w", outDir, err)
	}

	var files, size atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, doc := range docs {
		g.Go(func() error {
			// Check for cancellation before starting work.
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			v, err := doc.render(gCtx)
			if err != nil {
				return fmt.Errorf("rendering %s: %w", doc.path, err)
			}

			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", doc.path, err)
			}

			data = append(data, '\n')

			if err := fsutil.WriteFileAtomic(
				filepath.Join(outDir, filepath.FromSlash(doc.path)),
				data, 0o644, e.owner,
			); err != nil {
				return err
			}

			files.Add(1)
			size.Add(int64(len(data)))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("exporting %s: %w", suite, err)
	}

	res := &Result{Files: files.Load(), Bytes: size.Load()}

	e.log.WithFields(logrus.Fields{
		"suite":    suite,
		"files":    res.Files,
		"size":     units.HumanSize(float64(res.Bytes)),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Export completed")

	return res, nil
}

// plan lists the documents of suite.
func (e *Exporter) plan(ctx context.Context, suite string) ([]document, error) {
	machines, err := e.store.ListMachines(ctx, suite)
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}

	orders, err := e.store.ListOrders(ctx, suite)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	runIDs, err := e.store.ListRunIDs(ctx, suite)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	docs := make([]document, 0, 1+len(machines)+len(orders)+len(runIDs))

	docs = append(docs, document{
		path: "machines.json",
		render: func(ctx context.Context) (any, error) {
			return e.query.Machines(ctx, suite)
		},
	})

	for _, m := range machines {
		docs = append(docs, document{
			path: "machines/" + idFile(m.ID),
			render: func(ctx context.Context) (any, error) {
				return e.query.Machine(ctx, suite, m.ID)
			},
		})
	}

	for _, o := range orders {
		docs = append(docs, document{
			path: "orders/" + idFile(o.ID),
			render: func(ctx context.Context) (any, error) {
				return e.query.Order(ctx, suite, o.ID)
			},
		})
	}

	for _, id := range runIDs {
		docs = append(docs, document{
			path: "runs/" + idFile(id),
			render: func(ctx context.Context) (any, error) {
				return e.query.Run(ctx, suite, id)
			},
		})
	}

	return docs, nil
}

func idFile(id uint) string {
	return strconv.FormatUint(uint64(id), 10) + ".json"
}
