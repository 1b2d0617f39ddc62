package history

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
)

// DefaultMinSimilarity is the relatedness threshold used when callers pass none.
const DefaultMinSimilarity = 0.7

const (
	phraseMatchBoost   = 0.3
	phrasePartialBoost = 0.15
	keyTermBoost       = 0.2
	keyTermBoostCap    = 0.4
)

// KeyPhrases are multi-word units that count as a match when both issues carry them.
var KeyPhrases = []string{
	"technical level",
	"code examples",
	"missing examples",
	"examples needed",
	"system error",
	"runtime error",
	"error in processing",
}

// KeyTerms is the domain vocabulary whose shared words boost similarity.
var KeyTerms = map[string]struct{}{
	"technical": {}, "level": {}, "content": {}, "missing": {}, "error": {},
	"invalid": {}, "incomplete": {}, "examples": {}, "code": {}, "needed": {},
	"advanced": {}, "basic": {}, "system": {}, "runtime": {}, "processing": {},
}

// clusterStopwords never justify merging two clusters on their own.
var clusterStopwords = map[string]struct{}{
	"in": {}, "the": {}, "and": {}, "or": {}, "with": {},
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Similarity scores two issue strings in [0,1] from word overlap, shared key
// phrases and shared key terms.
func Similarity(a, b string) float64 {
	aLower, bLower := strings.ToLower(a), strings.ToLower(b)
	aWords, bWords := wordSet(aLower), wordSet(bLower)

	var shared, sharedKeyTerms int
	for w := range aWords {
		if _, ok := bWords[w]; ok {
			shared++
			if _, key := KeyTerms[w]; key {
				sharedKeyTerms++
			}
		}
	}
	union := len(aWords) + len(bWords) - shared
	base := float64(shared) / float64(max(union, 1))

	var phrase float64
	for _, p := range KeyPhrases {
		inA, inB := strings.Contains(aLower, p), strings.Contains(bLower, p)
		switch {
		case inA && inB:
			phrase += phraseMatchBoost
		case inA && containsAny(bLower, strings.Fields(p)), inB && containsAny(aLower, strings.Fields(p)):
			phrase += phrasePartialBoost
		}
	}

	terms := min(float64(sharedKeyTerms)*keyTermBoost, keyTermBoostCap)
	return min(base+phrase+terms, 1)
}

type issueStat struct {
	issue       string
	occurrences int
	firstSeen   time.Time
	lastSeen    time.Time
}

// collectIssues returns every distinct issue in first-encountered order.
func collectIssues(records []models.ValidationRecord) []issueStat {
	index := make(map[string]int)
	var stats []issueStat
	for _, r := range records {
		for _, issue := range r.Issues {
			i, ok := index[issue]
			if !ok {
				index[issue] = len(stats)
				stats = append(stats, issueStat{issue: issue, firstSeen: r.Timestamp, lastSeen: r.Timestamp})
				i = len(stats) - 1
			}
			s := &stats[i]
			s.occurrences++
			if r.Timestamp.Before(s.firstSeen) {
				s.firstSeen = r.Timestamp
			}
			if r.Timestamp.After(s.lastSeen) {
				s.lastSeen = r.Timestamp
			}
		}
	}
	return stats
}

// RelatedIssue is one match returned by FindRelatedIssues.
type RelatedIssue struct {
	Issue       string    `json:"issue"`
	Similarity  float64   `json:"similarity"`
	Occurrences int       `json:"occurrences"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// FindRelatedIssues scores issue against every other distinct issue in records
// and returns those at or above minSimilarity, most similar first.
func FindRelatedIssues(records []models.ValidationRecord, issue string, minSimilarity float64) []RelatedIssue {
	related := []RelatedIssue{}
	for _, s := range collectIssues(records) {
		if s.issue == issue {
			continue
		}
		sim := Similarity(issue, s.issue)
		if sim < minSimilarity {
			continue
		}
		related = append(related, RelatedIssue{
			Issue:       s.issue,
			Similarity:  sim,
			Occurrences: s.occurrences,
			FirstSeen:   s.firstSeen,
			LastSeen:    s.lastSeen,
		})
	}
	slices.SortStableFunc(related, func(a, b RelatedIssue) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(b.Occurrences, a.Occurrences)
	})
	return related
}

// IssueCluster is a group of mutually related issues.
type IssueCluster struct {
	Issues           []string      `json:"issues"`
	TotalOccurrences int           `json:"total_occurrences"`
	FirstSeen        time.Time     `json:"first_seen"`
	LastSeen         time.Time     `json:"last_seen"`
	TimeSpan         time.Duration `json:"time_span"`
	CommonTerms      []string      `json:"common_terms"`
}

// ClusterIssues groups issues into connected components of the relatedness
// graph at minSimilarity, then merges clusters sharing a meaningful common
// term. Clusters are returned largest first.
func ClusterIssues(records []models.ValidationRecord, minSimilarity float64) []IssueCluster {
	stats := collectIssues(records)
	if len(stats) == 0 {
		return []IssueCluster{}
	}

	n := len(stats)
	adjacent := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if Similarity(stats[i].issue, stats[j].issue) >= minSimilarity {
				adjacent[i] = append(adjacent[i], j)
				adjacent[j] = append(adjacent[j], i)
			}
		}
	}

	assigned := make([]bool, n)
	var clusters []IssueCluster
	for seed := 0; seed < n; seed++ {
		if assigned[seed] {
			continue
		}
		assigned[seed] = true
		members := []string{stats[seed].issue}
		queue := []int{seed}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range adjacent[cur] {
				if assigned[next] {
					continue
				}
				assigned[next] = true
				members = append(members, stats[next].issue)
				queue = append(queue, next)
			}
		}
		clusters = append(clusters, buildCluster(records, members, commonTerms(members)))
	}

	clusters = mergeClusters(records, clusters)
	slices.SortStableFunc(clusters, func(a, b IssueCluster) int {
		return cmp.Compare(b.TotalOccurrences, a.TotalOccurrences)
	})
	return clusters
}

func buildCluster(records []models.ValidationRecord, members []string, terms []string) IssueCluster {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	issues := make([]string, 0, len(set))
	for m := range set {
		issues = append(issues, m)
	}
	slices.Sort(issues)

	cluster := IssueCluster{Issues: issues, CommonTerms: terms}
	var seen bool
	for _, r := range records {
		hits := make(map[string]struct{})
		for _, issue := range r.Issues {
			if _, ok := set[issue]; ok {
				hits[issue] = struct{}{}
			}
		}
		if len(hits) == 0 {
			continue
		}
		cluster.TotalOccurrences += len(hits)
		if !seen || r.Timestamp.Before(cluster.FirstSeen) {
			cluster.FirstSeen = r.Timestamp
		}
		if !seen || r.Timestamp.After(cluster.LastSeen) {
			cluster.LastSeen = r.Timestamp
		}
		seen = true
	}
	cluster.TimeSpan = cluster.LastSeen.Sub(cluster.FirstSeen)
	return cluster
}

func commonTerms(issues []string) []string {
	if len(issues) == 0 {
		return []string{}
	}
	common := wordSet(strings.ToLower(issues[0]))
	for _, issue := range issues[1:] {
		words := wordSet(strings.ToLower(issue))
		for w := range common {
			if _, ok := words[w]; !ok {
				delete(common, w)
			}
		}
	}
	return sortedKeys(common)
}

func mergeClusters(records []models.ValidationRecord, clusters []IssueCluster) []IssueCluster {
	for i := 0; i < len(clusters); i++ {
		for j := i + 1; j < len(clusters); {
			shared := intersectTerms(clusters[i].CommonTerms, clusters[j].CommonTerms)
			if !hasMeaningfulTerm(shared) {
				j++
				continue
			}
			members := append(append([]string{}, clusters[i].Issues...), clusters[j].Issues...)
			clusters[i] = buildCluster(records, members, shared)
			clusters = append(clusters[:j], clusters[j+1:]...)
		}
	}
	return clusters
}

func intersectTerms(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	shared := make(map[string]struct{})
	for _, t := range b {
		if _, ok := set[t]; ok {
			shared[t] = struct{}{}
		}
	}
	return sortedKeys(shared)
}

func hasMeaningfulTerm(terms []string) bool {
	for _, t := range terms {
		if _, stop := clusterStopwords[t]; !stop {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
