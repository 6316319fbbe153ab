// Package scanner finds duplicate candidates across the whole active population of a kind and
// clusters them into connected components.
package scanner

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/normalizers"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// ReasonGeoProximity marks a pair reported because the items are close together and their names
// are at least a maybe-band match.
const ReasonGeoProximity = "geo-proximity"

const minCoreLen = 3

// Source lists the scan population.
type Source interface {
	ListScanItems(ctx context.Context, kind models.Kind, filter models.ScanFilter) ([]models.ScanItem, error)
}

// Matcher scores one pair of names.
type Matcher interface {
	EquivalentAt(ctx context.Context, a, b, locale string, threshold float64) matching.Verdict
}

// Options contains configuration for the scanner
type Options struct {
	Threshold        float64 // all-pairs threshold (default: 0.85)
	MaybeBand        float64 // lowest score the geo signal can lift (default: 0.5)
	Workers          int     // partitions scanned in parallel (default: 4)
	PartitionCeiling int     // largest partition that gets the all-pairs pass (default: 2000)
	GeoRadiusMeters  float64 // 0 disables the geo signal
}

// DefaultOptions returns default scanner configuration
func DefaultOptions() Options {
	return Options{
		Threshold:        0.85,
		MaybeBand:        0.5,
		Workers:          4,
		PartitionCeiling: 2000,
	}
}

// Partition identifies one comparison group.
type Partition struct {
	TypeID  string `json:"type_id,omitempty"`
	Country string `json:"country,omitempty"`
	Size    int    `json:"size"`
}

// Result is the output of one scan.
type Result struct {
	Kind              models.Kind                 `json:"kind"`
	Scanned           int                         `json:"scanned"`
	Candidates        []models.DuplicateCandidate `json:"candidates"`
	SkippedPartitions []Partition                 `json:"skipped_partitions,omitempty"`
	// Items is the scanned population, kept for canonical selection.
	Items []models.ScanItem `json:"-"`
}

// Clusters groups the result's candidates.
func (r *Result) Clusters() []models.DuplicateCluster {
	return BuildClusters(r.Candidates, r.Items)
}

// Scanner is the duplicate scanner
type Scanner struct {
	logger  ectologger.Logger
	source  Source
	matcher Matcher
	opts    Options
}

// New creates a scanner.
func New(logger ectologger.Logger, source Source, matcher Matcher, opts Options) *Scanner {
	defaults := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = defaults.Threshold
	}
	if opts.MaybeBand <= 0 {
		opts.MaybeBand = defaults.MaybeBand
	}
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.PartitionCeiling <= 0 {
		opts.PartitionCeiling = defaults.PartitionCeiling
	}
	return &Scanner{logger: logger, source: source, matcher: matcher, opts: opts}
}

// Scan reports every candidate pair among the active items of kind. Items are compared only within
// their (type, country) partition; partitions are scanned in parallel. The edge list may overlap
// transitively; BuildClusters closes it.
func (s *Scanner) Scan(ctx context.Context, kind models.Kind, filter models.ScanFilter) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "scanner.Scanner.Scan")
	defer span.End()

	start := time.Now()
	log := s.logger.WithContext(ctx).WithField("kind", kind)

	items, err := s.source.ListScanItems(ctx, kind, filter)
	if err != nil {
		return nil, err
	}

	threshold := filter.Threshold
	if threshold <= 0 {
		threshold = s.opts.Threshold
	}

	parts := partition(items)
	found := make([][]models.DuplicateCandidate, len(parts))

	var (
		mu      sync.Mutex
		skipped []Partition
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, part := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			candidates, complete, err := s.ScanPartition(gctx, kind, part.items, threshold)
			if err != nil {
				return err
			}
			if !complete {
				log.WithFields(map[string]any{
					"type_id": part.key.TypeID,
					"country": part.key.Country,
					"size":    len(part.items),
					"ceiling": s.opts.PartitionCeiling,
				}).Warn("Partition exceeds ceiling, skipping all-pairs pass")
				metrics.ScanSkippedPartitionsTotal.WithLabelValues(string(kind)).Inc()

				mu.Lock()
				skipped = append(skipped, Partition{TypeID: part.key.TypeID, Country: part.key.Country, Size: len(part.items)})
				mu.Unlock()
			}
			found[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Kind: kind, Scanned: len(items), Items: items, Candidates: []models.DuplicateCandidate{}}
	for _, cs := range found {
		res.Candidates = append(res.Candidates, cs...)
	}
	sort.Slice(skipped, func(i, j int) bool {
		if skipped[i].TypeID != skipped[j].TypeID {
			return skipped[i].TypeID < skipped[j].TypeID
		}
		return skipped[i].Country < skipped[j].Country
	})
	res.SkippedPartitions = skipped

	for _, c := range res.Candidates {
		metrics.ScanCandidatesTotal.WithLabelValues(string(kind), c.Reason).Inc()
	}
	metrics.ScanDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	log.WithFields(map[string]any{
		"scanned":    res.Scanned,
		"partitions": len(parts),
		"candidates": len(res.Candidates),
		"skipped":    len(skipped),
	}).Info("Duplicate scan finished")

	return res, nil
}

// ScanPartition runs the exact, core-name and all-pairs passes over items, which must share one
// (type, country) partition. complete is false when the partition exceeds the ceiling and the
// all-pairs pass was skipped.
func (s *Scanner) ScanPartition(ctx context.Context, kind models.Kind, items []models.ScanItem, threshold float64) (candidates []models.DuplicateCandidate, complete bool, err error) {
	if threshold <= 0 {
		threshold = s.opts.Threshold
	}
	var key partitionKey
	if len(items) > 0 {
		key = partitionKey{TypeID: items[0].TypeID, Country: items[0].Country}
	}

	p := s.newPass(kind, group{key: key, items: items}, threshold)
	p.exact()
	p.coreName()
	if len(items) > s.opts.PartitionCeiling {
		return p.out, false, nil
	}
	if err := p.allPairs(ctx, s.matcher); err != nil {
		return nil, false, err
	}
	return p.out, true, nil
}

type partitionKey struct {
	TypeID  string
	Country string
}

type group struct {
	key   partitionKey
	items []models.ScanItem
}

// partition splits items by (type, country), keeping the source order inside each partition.
func partition(items []models.ScanItem) []group {
	index := make(map[partitionKey]int)
	var parts []group
	for _, it := range items {
		key := partitionKey{TypeID: it.TypeID, Country: it.Country}
		n, ok := index[key]
		if !ok {
			n = len(parts)
			index[key] = n
			parts = append(parts, group{key: key})
		}
		parts[n].items = append(parts[n].items, it)
	}
	return parts
}

// pass holds the per-partition state of one scan.
type pass struct {
	kind      models.Kind
	key       partitionKey
	items     []models.ScanItem
	locales   []string
	norms     []string
	reps      []int
	paired    map[[2]int]struct{}
	threshold float64
	maybeBand float64
	radius    float64
	out       []models.DuplicateCandidate
}

func (s *Scanner) newPass(kind models.Kind, part group, threshold float64) *pass {
	p := &pass{
		kind:      kind,
		key:       part.key,
		items:     part.items,
		locales:   make([]string, len(part.items)),
		norms:     make([]string, len(part.items)),
		paired:    make(map[[2]int]struct{}),
		threshold: threshold,
		maybeBand: s.opts.MaybeBand,
		radius:    s.opts.GeoRadiusMeters,
	}
	for i, it := range part.items {
		p.locales[i] = normalizers.LocaleFor(it.Country, it.Name)
		p.norms[i] = normalizers.Normalize(it.Name, normalizers.KeyLocale(it.Country))
	}
	return p
}

func (p *pass) emit(i, j int, score float64, reason string) {
	if i > j {
		i, j = j, i
	}
	if _, ok := p.paired[[2]int{i, j}]; ok {
		return
	}
	p.paired[[2]int{i, j}] = struct{}{}
	p.out = append(p.out, models.DuplicateCandidate{
		RecordA: p.items[i].ID,
		RecordB: p.items[j].ID,
		Score:   score,
		Reason:  reason,
		TypeID:  p.key.TypeID,
		Country: p.key.Country,
	})
}

func (p *pass) seen(i, j int) bool {
	if i > j {
		i, j = j, i
	}
	_, ok := p.paired[[2]int{i, j}]
	return ok
}

// exact pairs every two items with the same normalized name and keeps one representative per
// name for the core-name pass.
func (p *pass) exact() {
	groups := make(map[string][]int)
	var order []string
	for i, n := range p.norms {
		if n == "" {
			continue
		}
		if _, ok := groups[n]; !ok {
			order = append(order, n)
		}
		groups[n] = append(groups[n], i)
	}

	for _, n := range order {
		g := groups[n]
		p.reps = append(p.reps, g[0])
		for a := 0; a < len(g); a++ {
			for b := a + 1; b < len(g); b++ {
				p.emit(g[a], g[b], 1.0, matching.ReasonExact)
			}
		}
	}
}

// coreName pairs representatives whose names reduce to the same core.
func (p *pass) coreName() {
	groups := make(map[string][]int)
	var order []string
	for _, i := range p.reps {
		core := normalizers.NormalizeCore(p.items[i].Name, p.locales[i])
		if utf8.RuneCountInString(core) < minCoreLen {
			continue
		}
		if _, ok := groups[core]; !ok {
			order = append(order, core)
		}
		groups[core] = append(groups[core], i)
	}

	for _, core := range order {
		g := groups[core]
		for a := 0; a < len(g); a++ {
			for b := a + 1; b < len(g); b++ {
				p.emit(g[a], g[b], 0.95, matching.ReasonCoreName)
			}
		}
	}
}

// allPairs runs the similarity engine on every representative pair not already reported.
func (p *pass) allPairs(ctx context.Context, m Matcher) error {
	for a := 0; a < len(p.reps); a++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		i := p.reps[a]
		for b := a + 1; b < len(p.reps); b++ {
			j := p.reps[b]
			if p.seen(i, j) {
				continue
			}

			v := m.EquivalentAt(ctx, p.items[i].Name, p.items[j].Name, p.locales[i], p.threshold)
			switch {
			case v.IsEquivalent:
				p.emit(i, j, v.Score, v.Reason)
			case v.Score >= p.maybeBand && p.near(i, j):
				p.emit(i, j, v.Score, ReasonGeoProximity)
			}
		}
	}
	return nil
}

// near reports whether both items carry coordinates within the geo radius.
func (p *pass) near(i, j int) bool {
	if p.radius <= 0 {
		return false
	}
	a, b := p.items[i], p.items[j]
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return false
	}
	pa := orb.Point{*a.Longitude, *a.Latitude}
	pb := orb.Point{*b.Longitude, *b.Latitude}
	return geo.DistanceHaversine(pa, pb) <= p.radius
}
