package dedupe

import (
	"math"
	"sort"
)

type cluster struct {
	representative    *normalizedCandidate
	members           []*normalizedCandidate
	totalSourceCount  int
	averageSimilarity float64
}

func newCluster(c *normalizedCandidate) *cluster {
	return &cluster{
		representative:    c,
		members:           []*normalizedCandidate{c},
		totalSourceCount:  c.sourceCount,
		averageSimilarity: 1,
	}
}

func (c *cluster) add(candidate *normalizedCandidate, similarity float64) {
	c.members = append(c.members, candidate)
	c.totalSourceCount += candidate.sourceCount
	n := float64(len(c.members))
	c.averageSimilarity = (c.averageSimilarity*(n-1) + similarity) / n
	if candidate.score > c.representative.score {
		c.representative = candidate
	}
}

func (c *cluster) priority() float64 {
	return ClusterPriority(c.representative.score, c.totalSourceCount, c.averageSimilarity)
}

// canMerge refuses merges that would mix numerically contradictory claims.
func canMerge(representative, candidate Signals) bool {
	if representative.HasMetric && !candidate.HasMetric {
		return false
	}
	if representative.HasMetric && candidate.HasMetric &&
		len(representative.NumericTokens) > 0 && len(candidate.NumericTokens) > 0 {
		return sharesToken(representative.NumericTokens, candidate.NumericTokens)
	}
	return true
}

func sharesToken(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, token := range a {
		set[token] = struct{}{}
	}
	for _, token := range b {
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}

// assignClusters runs the greedy single pass. Candidates are visited by
// descending score; equal scores keep input order.
func assignClusters(candidates []*normalizedCandidate, threshold float64) []*cluster {
	ordered := make([]*normalizedCandidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].score > ordered[j].score
	})

	clusters := make([]*cluster, 0, len(ordered))
	for _, candidate := range ordered {
		if len(candidate.vector) == 0 {
			clusters = append(clusters, newCluster(candidate))
			continue
		}

		var best *cluster
		bestSimilarity := math.Inf(-1)
		for _, existing := range clusters {
			repVector := existing.representative.vector
			if len(repVector) == 0 {
				continue
			}
			similarity := CosineSimilarity(candidate.vector, repVector)
			if similarity < threshold || similarity <= bestSimilarity {
				continue
			}
			if !canMerge(existing.representative.signals, candidate.signals) {
				continue
			}
			best = existing
			bestSimilarity = similarity
		}

		if best == nil {
			clusters = append(clusters, newCluster(candidate))
			continue
		}
		best.add(candidate, bestSimilarity)
	}
	return clusters
}

func selectTop(clusters []*cluster, maxBullets int) []*cluster {
	if maxBullets < 1 {
		maxBullets = 1
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].priority() > clusters[j].priority()
	})
	if len(clusters) > maxBullets {
		clusters = clusters[:maxBullets]
	}
	return clusters
}

func (c *cluster) toDeduped() DedupedBullet {
	rep := c.representative
	out := DedupedBullet{
		Content:           rep.Content,
		RepresentativeID:  rep.ID,
		SupportingIDs:     []string{},
		SourceIDs:         make([]string, 0, len(c.members)),
		SourceCount:       c.totalSourceCount,
		AverageSimilarity: math.Round(c.averageSimilarity*averageSimilarityDPs) / averageSimilarityDPs,
		Embedding:         rep.vector,
	}
	for _, member := range c.members {
		if member.ID == "" {
			continue
		}
		out.SourceIDs = append(out.SourceIDs, member.ID)
		if member != rep {
			out.SupportingIDs = append(out.SupportingIDs, member.ID)
		}
	}
	return out
}
