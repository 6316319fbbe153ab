// Package cleanup is the batch deduplication job: scan every kind for duplicates, cluster them and
// merge each cluster into its suggested canonical.
package cleanup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/scanner"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Scanner finds duplicate candidates of one kind.
type Scanner interface {
	Scan(ctx context.Context, kind models.Kind, filter models.ScanFilter) (*scanner.Result, error)
}

// Merger folds one duplicate into its canonical.
type Merger interface {
	Merge(ctx context.Context, kind models.Kind, duplicateID, canonicalID string, dryRun bool) (*models.MergeResult, error)
}

// Options selects what a run cleans up.
type Options struct {
	Kinds     []models.Kind // empty means models.AllKinds
	DryRun    bool
	Threshold float64 // all-pairs similarity threshold; 0 keeps the scanner default
	TypeSlug  string  // restricts the record pass to one record type
	Country   string  // restricts the record pass to one country
	Verbose   bool
	Workers   int // clusters merged in parallel; 0 uses the job default
}

// Member is one entity of a cluster.
type Member struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Canonical bool   `json:"canonical"`
}

// ClusterReport is the outcome of one cluster.
type ClusterReport struct {
	Kind        models.Kind          `json:"kind"`
	ClusterID   string               `json:"cluster_id"`
	Reasons     []string             `json:"match_reasons"`
	CanonicalID string               `json:"canonical_id"`
	Members     []Member             `json:"members"`
	Merges      []models.MergeResult `json:"merges"`
	Skipped     bool                 `json:"skipped,omitempty"`
}

// ItemError is one failure collected during a run.
type ItemError struct {
	Kind        models.Kind `json:"kind"`
	ClusterID   string      `json:"cluster_id,omitempty"`
	DuplicateID string      `json:"duplicate_id,omitempty"`
	CanonicalID string      `json:"canonical_id,omitempty"`
	Message     string      `json:"error"`
	Err         error       `json:"-"`
}

// KindReport is the outcome of one kind.
type KindReport struct {
	Kind              models.Kind         `json:"kind"`
	Scanned           int                 `json:"scanned"`
	Candidates        int                 `json:"candidates"`
	SkippedPartitions []scanner.Partition `json:"skipped_partitions,omitempty"`
	Clusters          []ClusterReport     `json:"clusters"`
}

// Report summarizes a run.
type Report struct {
	DryRun               bool          `json:"dry_run"`
	Kinds                []KindReport  `json:"kinds"`
	Clusters             int           `json:"clusters"`
	DuplicatesMerged     int           `json:"duplicates_merged"`
	ReferencesReassigned int64         `json:"references_reassigned"`
	Errors               []ItemError   `json:"errors"`
	Interrupted          bool          `json:"interrupted"`
	Duration             time.Duration `json:"duration"`
}

// Job runs cleanups.
type Job struct {
	logger  ectologger.Logger
	scanner Scanner
	merger  Merger
	workers int
}

// NewJob creates a cleanup job.
func NewJob(logger ectologger.Logger, s Scanner, m Merger) *Job {
	return &Job{logger: logger, scanner: s, merger: m, workers: 4}
}

// WithWorkers sets how many clusters merge in parallel when Options.Workers is unset.
func (j *Job) WithWorkers(n int) *Job {
	if n > 0 {
		j.workers = n
	}
	return j
}

// Run cleans up every selected kind in order. Clusters of one kind merge in parallel; the members of
// one cluster merge one after another. Failures are collected into the report and never stop the
// run. A cancelled context stops the run between clusters; the partial report is returned with the
// context error.
func (j *Job) Run(ctx context.Context, opts Options) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "cleanup.Job.Run")
	defer span.End()

	start := time.Now()
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = models.AllKinds
	}
	if opts.Workers <= 0 {
		opts.Workers = j.workers
	}

	log := j.logger.WithContext(ctx).WithFields(map[string]any{
		"kinds":   kinds,
		"dry_run": opts.DryRun,
	})
	log.Info("Starting cleanup")

	report := &Report{DryRun: opts.DryRun, Kinds: []KindReport{}, Errors: []ItemError{}}
	for _, kind := range kinds {
		if ctx.Err() != nil {
			break
		}
		kr, errs := j.runKind(ctx, kind, opts)
		report.Kinds = append(report.Kinds, kr)
		report.Errors = append(report.Errors, errs...)
	}
	report.total()
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		report.Interrupted = true
		log.WithError(err).Warn("Cleanup interrupted")
		return report, err
	}

	log.WithFields(map[string]any{
		"clusters":   report.Clusters,
		"merged":     report.DuplicatesMerged,
		"reassigned": report.ReferencesReassigned,
		"errors":     len(report.Errors),
	}).Info("Cleanup finished")
	return report, nil
}

func (j *Job) runKind(ctx context.Context, kind models.Kind, opts Options) (KindReport, []ItemError) {
	kr := KindReport{Kind: kind, Clusters: []ClusterReport{}}

	filter := models.ScanFilter{Threshold: opts.Threshold}
	if kind == models.KindRecord {
		filter.TypeSlug = opts.TypeSlug
		filter.Country = opts.Country
	}

	res, err := j.scanner.Scan(ctx, kind, filter)
	if err != nil {
		j.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Scan failed")
		return kr, []ItemError{{Kind: kind, Message: err.Error(), Err: err}}
	}
	kr.Scanned = res.Scanned
	kr.Candidates = len(res.Candidates)
	kr.SkippedPartitions = res.SkippedPartitions

	names := make(map[string]string, len(res.Items))
	for _, it := range res.Items {
		names[it.ID] = it.Name
	}

	clusters := res.Clusters()
	metrics.ScanClustersTotal.WithLabelValues(string(kind)).Add(float64(len(clusters)))
	kr.Clusters = make([]ClusterReport, len(clusters))

	var (
		mu   sync.Mutex
		errs []ItemError
	)
	collect := func(e ItemError) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, e)
	}

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, c := range clusters {
		kr.Clusters[i] = ClusterReport{
			Kind:        kind,
			ClusterID:   c.ClusterID,
			Reasons:     c.MatchReasons,
			CanonicalID: c.SuggestedCanonicalID,
			Members: ectolinq.Map(c.MemberIDs, func(id string) Member {
				return Member{ID: id, Name: names[id], Canonical: id == c.SuggestedCanonicalID}
			}),
			Merges: []models.MergeResult{},
		}

		g.Go(func() error {
			cr := &kr.Clusters[i]
			if ctx.Err() != nil {
				cr.Skipped = true
				return nil
			}
			for _, m := range cr.Members {
				if m.Canonical {
					continue
				}
				result, err := j.merger.Merge(ctx, kind, m.ID, cr.CanonicalID, opts.DryRun)
				if err != nil {
					collect(ItemError{
						Kind:        kind,
						ClusterID:   cr.ClusterID,
						DuplicateID: m.ID,
						CanonicalID: cr.CanonicalID,
						Message:     err.Error(),
						Err:         err,
					})
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil
					}
					continue
				}
				cr.Merges = append(cr.Merges, *result)
			}
			return nil
		})
	}
	_ = g.Wait()

	return kr, errs
}

func (r *Report) total() {
	for _, kr := range r.Kinds {
		for _, cr := range kr.Clusters {
			if cr.Skipped {
				continue
			}
			r.Clusters++
			for i := range cr.Merges {
				m := &cr.Merges[i]
				if m.AlreadyMerged {
					continue
				}
				r.DuplicatesMerged++
				r.ReferencesReassigned += m.TotalReassigned()
			}
		}
	}
}
