package models

import "time"

// PersonalityTraits holds the five personality dimensions, each 0 to 100.
type PersonalityTraits struct {
	Openness          float64 `json:"openness"`
	Conscientiousness float64 `json:"conscientiousness"`
	Extraversion      float64 `json:"extraversion"`
	Agreeableness     float64 `json:"agreeableness"`
	Neuroticism       float64 `json:"neuroticism"`
}

// Interests holds the five interest dimensions.
type Interests struct {
	STEM      float64 `json:"stem"`
	Arts      float64 `json:"arts"`
	Business  float64 `json:"business"`
	Social    float64 `json:"social"`
	Practical float64 `json:"practical"`
}

type StreamRecommendation struct {
	Score    float64  `json:"score"`
	Subjects []string `json:"subjects"`
}

type StreamRecommendations struct {
	Science    StreamRecommendation `json:"science"`
	Commerce   StreamRecommendation `json:"commerce"`
	Arts       StreamRecommendation `json:"arts"`
	Vocational StreamRecommendation `json:"vocational"`
}

type SalaryRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type CareerPath struct {
	Title            string      `json:"title"`
	Stream           string      `json:"stream"`
	Description      string      `json:"description"`
	RequiredSubjects []string    `json:"requiredSubjects"`
	AverageSalary    SalaryRange `json:"averageSalary"`
	JobGrowth        float64     `json:"jobGrowth"`
	MatchScore       float64     `json:"matchScore"`
}

// Results is the finalized scoring output of a completed session. Immutable once cached.
type Results struct {
	UserID                string                `json:"userId"`
	SessionID             string                `json:"sessionId"`
	CompletedAt           time.Time             `json:"completedAt"`
	PersonalityTraits     PersonalityTraits     `json:"personalityTraits"`
	Interests             Interests             `json:"interests"`
	StreamRecommendations StreamRecommendations `json:"streamRecommendations"`
	CareerPaths           []CareerPath          `json:"careerPaths"`
	CreatedAt             time.Time             `json:"createdAt"`
	UpdatedAt             time.Time             `json:"updatedAt"`
}

// Clone returns a deep copy, so a caller cannot alter cached results through it.
func (r *Results) Clone() *Results {
	if r == nil {
		return nil
	}
	out := *r
	recs := &out.StreamRecommendations
	for _, rec := range []*StreamRecommendation{&recs.Science, &recs.Commerce, &recs.Arts, &recs.Vocational} {
		rec.Subjects = cloneStrings(rec.Subjects)
	}
	if r.CareerPaths != nil {
		out.CareerPaths = make([]CareerPath, len(r.CareerPaths))
		for i, c := range r.CareerPaths {
			c.RequiredSubjects = cloneStrings(c.RequiredSubjects)
			out.CareerPaths[i] = c
		}
	}
	return &out
}

// CachedResults is the persisted envelope around Results.
type CachedResults struct {
	Results   Results   `json:"results"`
	Timestamp time.Time `json:"timestamp"`
	Synced    bool      `json:"synced"`
}
