package domain

// Segment is one timed span of recognized text within a task result.
// The ID is the sequential index assigned by the transcription model;
// segment order is chronological and must be preserved end-to-end.
type Segment struct {
	ID               int     `json:"id"`
	Seek             float64 `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int64 `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}
