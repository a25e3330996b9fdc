package domain

// AcceptanceCard summarises one saved candidate for post-run validation.
type AcceptanceCard struct {
	ID             string
	CanonicalURL   string
	Angle          string
	SourceVerified bool
	Contested      bool
}

// AcceptanceResult is the outcome of evaluating a run's saved set.
type AcceptanceResult struct {
	Passes   bool     `json:"passes"`
	Failures []string `json:"failures"`
}
