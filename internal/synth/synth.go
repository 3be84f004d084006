package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/config"
	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

// negativePhrases mark a model reply that admits it found nothing. Matching
// is case-insensitive on substrings.
var negativePhrases = []string{
	"i don't",
	"i do not",
	"i'm sorry",
	"no mention",
	"not mention",
	"not found",
	"no information",
	"cannot find",
	"does not exist",
	"not specified",
	"not mentioned",
	"not available",
	"no details",
	"not provided",
}

// Labeler turns a source id into the path shown next to a citation.
type Labeler func(sourceID string) string

type Options struct {
	Timeout     time.Duration
	ContextMode string
	Labeler     Labeler
}

type Synthesizer struct {
	gen  ai.IGenerator
	opts Options
}

func New(gen ai.IGenerator, opts Options) *Synthesizer {
	if opts.ContextMode == "" {
		opts.ContextMode = config.ContextModeAll
	}
	return &Synthesizer{gen: gen, opts: opts}
}

// Synthesize asks the model to answer question from the retrieved context.
// The context is every candidate unless the synthesizer runs in relevant
// mode.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, res *model.RetrievalResult) (*model.Answer, error) {
	if s.gen == nil {
		return nil, &appErr.SynthesisError{Err: ai.ErrUnavailable}
	}
	contextHits := res.Candidates
	if s.opts.ContextMode == config.ContextModeRelevant {
		contextHits = res.Relevant
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	reply, err := s.gen.Generate(ctx, BuildPrompt(question, contextHits))
	if err != nil {
		return nil, &appErr.SynthesisError{Err: err}
	}
	text := strings.TrimSpace(reply)
	if text == "" {
		// nothing to cite against: an empty reply is an ungrounded answer
		logutil.GetLogger(ctx).Warn("model returned empty answer", zap.Int("context_fragments", len(contextHits)))
		return &model.Answer{Text: "", Sources: []model.Citation{}}, nil
	}
	answer := BuildAnswer(text, res.Relevant, s.opts.Labeler)
	logutil.GetLogger(ctx).Debug("answer synthesized",
		zap.Int("context_fragments", len(contextHits)),
		zap.Bool("grounded", answer.Grounded),
	)
	return answer, nil
}

func BuildPrompt(question string, hits []model.Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, h.Fragment.Content)
	}
	return fmt.Sprintf(`Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s

Question: %s
Helpful Answer:`, strings.Join(parts, "\n\n"), question)
}

// BuildAnswer attaches citations for the relevant hits unless there are none
// or the reply reads as a non-answer.
func BuildAnswer(text string, relevant []model.Hit, labeler Labeler) *model.Answer {
	answer := &model.Answer{Text: text, Sources: []model.Citation{}}
	if len(relevant) == 0 || IsNegativeAnswer(text) {
		return answer
	}
	for _, h := range relevant {
		path := h.Fragment.SourceID
		if labeler != nil {
			path = labeler(h.Fragment.SourceID)
		}
		answer.Sources = append(answer.Sources, model.Citation{
			SourceID:   h.Fragment.SourceID,
			ChunkIndex: h.Fragment.ChunkIndex,
			Content:    h.Fragment.Content,
			FilePath:   path,
			Score:      h.Score,
		})
	}
	answer.Grounded = true
	return answer
}

func IsNegativeAnswer(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
