package models

// JobSummary is the raw per-job learning kept until the next compaction.
type JobSummary struct {
	JobNum   int     `json:"job_num"`
	Score    float64 `json:"score"`
	Excerpt  string  `json:"excerpt"`
	Platform string  `json:"platform"`
	Ref      string  `json:"ref,omitempty"`
}

// CompactedLearning replaces a window of raw summaries covering jobs FromJob..ToJob.
type CompactedLearning struct {
	SummaryText string `json:"summary_text"`
	FromJob     int    `json:"from_job"`
	ToJob       int    `json:"to_job"`
}

// LearningEntry holds exactly one of Raw or Compacted.
type LearningEntry struct {
	Raw       *JobSummary        `json:"raw,omitempty"`
	Compacted *CompactedLearning `json:"compacted,omitempty"`
}

// LearningStats summarises the scores seen by a context manager.
type LearningStats struct {
	Count        int       `json:"count"`
	AvgScore     float64   `json:"avg_score"`
	RecentScores []float64 `json:"recent_scores"`
}
