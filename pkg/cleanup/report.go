package cleanup

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// Print renders the report as aligned text. verbose adds one row per merged member with its
// reassigned counts.
func (r *Report) Print(w io.Writer, verbose bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	mode := "applied"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(tw, "Cleanup report (%s)\n\n", mode)

	for _, kr := range r.Kinds {
		fmt.Fprintf(tw, "%s: scanned %d, candidates %d, clusters %d\n", kr.Kind, kr.Scanned, kr.Candidates, len(kr.Clusters))
		for _, p := range kr.SkippedPartitions {
			fmt.Fprintf(tw, "  skipped partition type=%s country=%s size=%d\n", orDash(p.TypeID), orDash(p.Country), p.Size)
		}
		if len(kr.Clusters) == 0 {
			fmt.Fprintln(tw)
			continue
		}

		fmt.Fprintln(tw, "  CLUSTER\tCANONICAL\tMEMBERS\tREASONS\tREASSIGNED\t")
		for _, cr := range kr.Clusters {
			var reassigned int64
			for i := range cr.Merges {
				reassigned += cr.Merges[i].TotalReassigned()
			}
			status := fmt.Sprint(reassigned)
			if cr.Skipped {
				status = "skipped"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\t%s\t\n",
				shortID(cr.ClusterID), cr.memberName(cr.CanonicalID), len(cr.Members), strings.Join(cr.Reasons, ","), status)

			if !verbose {
				continue
			}
			for i := range cr.Merges {
				m := &cr.Merges[i]
				fmt.Fprintf(tw, "    <- %s\t%s\t\t%s\t%d\t\n", cr.memberName(m.DuplicateID), shortID(m.DuplicateID), relationCounts(m.Reassigned), m.TotalReassigned())
			}
		}
		fmt.Fprintln(tw)
	}

	verb := "Merged"
	if r.DryRun {
		verb = "Would merge"
	}
	fmt.Fprintf(tw, "Clusters:\t%d\n", r.Clusters)
	fmt.Fprintf(tw, "%s:\t%d duplicates\n", verb, r.DuplicatesMerged)
	fmt.Fprintf(tw, "References reassigned:\t%d\n", r.ReferencesReassigned)
	fmt.Fprintf(tw, "Errors:\t%d\n", len(r.Errors))
	if r.Interrupted {
		fmt.Fprintln(tw, "Interrupted:\tyes")
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(tw)
		for _, e := range r.Errors {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Kind, orDash(shortID(e.DuplicateID)), e.Message)
		}
	}

	return tw.Flush()
}

func (c *ClusterReport) memberName(id string) string {
	for _, m := range c.Members {
		if m.ID == id && m.Name != "" {
			return m.Name
		}
	}
	return shortID(id)
}

func relationCounts(counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
