package scanner

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// clusterNamespace seeds the v5 cluster ids so the same member set always gets the same id.
var clusterNamespace = uuid.MustParse("6f1d7c2a-3b9e-5e0f-9a41-2c8d4e7b1f30")

// BuildClusters groups candidate pairs into their connected components. Pairs (A,B) and (B,C) put
// A, B and C in one cluster whether or not (A,C) was ever scored. items supplies the names and
// creation times used to suggest a canonical; ids missing from items sort last.
func BuildClusters(candidates []models.DuplicateCandidate, items []models.ScanItem) []models.DuplicateCluster {
	byID := make(map[string]*models.ScanItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	index := make(map[string]int)
	var ids []string
	set := newDisjointSet(0)
	idOf := func(id string) int {
		if n, ok := index[id]; ok {
			return n
		}
		n := set.grow()
		index[id] = n
		ids = append(ids, id)
		return n
	}

	for _, c := range candidates {
		if c.RecordA == c.RecordB {
			continue
		}
		set.union(idOf(c.RecordA), idOf(c.RecordB))
	}

	members := make(map[int][]string)
	for n, id := range ids {
		root := set.find(n)
		members[root] = append(members[root], id)
	}

	reasons := make(map[int]map[string]struct{})
	for _, c := range candidates {
		if c.RecordA == c.RecordB {
			continue
		}
		root := set.find(index[c.RecordA])
		if reasons[root] == nil {
			reasons[root] = make(map[string]struct{})
		}
		reasons[root][c.Reason] = struct{}{}
	}

	var clusters []models.DuplicateCluster
	for root, ms := range members {
		if len(ms) < 2 {
			continue
		}
		sort.Strings(ms)

		rs := make([]string, 0, len(reasons[root]))
		for r := range reasons[root] {
			rs = append(rs, r)
		}
		sort.Strings(rs)

		clusters = append(clusters, models.DuplicateCluster{
			ClusterID:            uuid.NewSHA1(clusterNamespace, []byte(strings.Join(ms, ","))).String(),
			MemberIDs:            ms,
			MatchReasons:         rs,
			SuggestedCanonicalID: suggestCanonical(ms, byID),
		})
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })
	return clusters
}

// suggestCanonical picks the member with the shortest name, then the earliest creation, then the
// lowest id.
func suggestCanonical(ids []string, byID map[string]*models.ScanItem) string {
	best := ""
	for _, id := range ids {
		if best == "" || preferred(id, best, byID) {
			best = id
		}
	}
	return best
}

func preferred(a, b string, byID map[string]*models.ScanItem) bool {
	ia, ib := byID[a], byID[b]
	switch {
	case ia == nil && ib == nil:
		return a < b
	case ia == nil:
		return false
	case ib == nil:
		return true
	}

	la, lb := utf8.RuneCountInString(ia.Name), utf8.RuneCountInString(ib.Name)
	if la != lb {
		return la < lb
	}
	if !ia.CreatedAt.Equal(ib.CreatedAt) {
		return ia.CreatedAt.Before(ib.CreatedAt)
	}
	return a < b
}
