package dedupe

// CandidateScore ranks a candidate. Metric presence is counted twice, once in
// the content boost and once as metricBonus.
func CandidateScore(sourceCount int, importance float64, signals Signals) float64 {
	score := float64(sourceCount)*sourceCountWeight + importance
	score += signals.ContentBoost
	if signals.HasMetric {
		score += metricBonus
	}
	score += float64(min(len(signals.ToolHits), maxToolHits))
	score += float64(min(len(signals.RegulatoryHits), maxRegulatoryHits))
	return score
}

// ClusterPriority orders clusters for output: consensus (absorbed duplicates and
// their similarity) can outrank a locally stronger singleton.
func ClusterPriority(representativeScore float64, totalSourceCount int, averageSimilarity float64) float64 {
	return representativeScore + float64(totalSourceCount) + averageSimilarity*prioritySimilarity
}
