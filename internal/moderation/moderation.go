package moderation

import goaway "github.com/TwiN/go-away"

// RefusalAnswer is returned instead of an answer when a question is rejected.
const RefusalAnswer = "The question contains inappropriate content and cannot be processed."

type Checker interface {
	IsAllowed(text string) bool
}

type profanityChecker struct {
	detector *goaway.ProfanityDetector
}

func NewProfanityChecker() Checker {
	return &profanityChecker{detector: goaway.NewProfanityDetector()}
}

func (p *profanityChecker) IsAllowed(text string) bool {
	return !p.detector.IsProfane(text)
}

// AllowAll accepts every question.
type AllowAll struct{}

func (AllowAll) IsAllowed(string) bool { return true }
