package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/xxxsen/common/logutil"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xxxsen/docqa/internal/ai"
	"github.com/xxxsen/docqa/internal/chunker"
	"github.com/xxxsen/docqa/internal/filestore"
	"github.com/xxxsen/docqa/internal/index"
	"github.com/xxxsen/docqa/internal/loader"
	"github.com/xxxsen/docqa/internal/model"
	"github.com/xxxsen/docqa/internal/moderation"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
	"github.com/xxxsen/docqa/internal/retriever"
	"github.com/xxxsen/docqa/internal/synth"
)

const (
	stageValidate = "validate"
	stageLoad     = "load"
	stageChunk    = "chunk"
	stageStage    = "stage"
	stageEmbed    = "embed"
	stageIndex    = "index"
)

type Options struct {
	TopK          int
	Threshold     float64
	MaxQueryChars int
	MaxDocBytes   int64
	// SyncRetries bounds the retries of a retryable failure during
	// SyncStaged; RetryInterval is the first backoff delay.
	SyncRetries   uint64
	RetryInterval time.Duration
}

type Deps struct {
	Chunker     *chunker.Chunker
	Embedder    ai.IEmbedder
	Index       index.Index
	Synthesizer *synth.Synthesizer
	Store       filestore.Store
	Moderator   moderation.Checker
}

// RAGService owns the ingestion and question answering pipelines over one
// shared index.
type RAGService struct {
	chunker   *chunker.Chunker
	embedder  ai.IEmbedder
	index     index.Index
	retriever *retriever.Retriever
	synth     *synth.Synthesizer
	store     filestore.Store
	moderator moderation.Checker
	opts      Options
}

func NewRAGService(deps Deps, opts Options) *RAGService {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxQueryChars <= 0 {
		opts.MaxQueryChars = 2000
	}
	if opts.MaxDocBytes <= 0 {
		opts.MaxDocBytes = 10 * 1024 * 1024
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	moderator := deps.Moderator
	if moderator == nil {
		moderator = moderation.AllowAll{}
	}
	return &RAGService{
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		index:     deps.Index,
		retriever: retriever.New(deps.Embedder, deps.Index),
		synth:     deps.Synthesizer,
		store:     deps.Store,
		moderator: moderator,
		opts:      opts,
	}
}

// Ingest stages a document, splits it into fragments, embeds them and adds
// them to the index. On error the index is left as it was.
func (s *RAGService) Ingest(ctx context.Context, data []byte, sourceID string) error {
	ctx, done := startStage(ctx, "ingest", attribute.String("source_id", sourceID))
	n, err := s.ingest(ctx, data, sourceID, true)
	done(err)
	s.recordIngest(ctx, sourceID, n, err)
	return err
}

func (s *RAGService) recordIngest(ctx context.Context, sourceID string, fragments int, err error) {
	logger := logutil.GetLogger(ctx).With(zap.String("source_id", sourceID))
	if err != nil {
		ingestTotal.WithLabelValues("error").Inc()
		logger.Error("ingest document failed", zap.Error(err))
		return
	}
	ingestTotal.WithLabelValues("ok").Inc()
	fragmentsIndexed.Add(float64(fragments))
	logger.Info("document ingested", zap.Int("fragments", fragments))
}

func (s *RAGService) ingest(ctx context.Context, data []byte, sourceID string, stage bool) (int, error) {
	fail := func(stage string, err error) (int, error) {
		return 0, &appErr.IngestionError{SourceID: sourceID, Stage: stage, Err: err}
	}
	if err := filestore.ValidateKey(sourceID); err != nil {
		return fail(stageValidate, err)
	}
	if int64(len(data)) > s.opts.MaxDocBytes {
		return fail(stageValidate, fmt.Errorf("document exceeds %d bytes: %w", s.opts.MaxDocBytes, appErr.ErrInvalid))
	}
	exists, err := s.index.HasSource(ctx, sourceID)
	if err != nil {
		return fail(stageValidate, err)
	}
	if exists {
		return fail(stageValidate, fmt.Errorf("source already indexed: %w", appErr.ErrConflict))
	}

	text, err := loader.Load(sourceID, data)
	if err != nil {
		return fail(stageLoad, err)
	}
	frags := slices.Collect(s.chunker.Split(text, sourceID))
	if len(frags) == 0 {
		return fail(stageChunk, fmt.Errorf("document has no text: %w", appErr.ErrInvalid))
	}

	staged := false
	if stage && s.store != nil {
		if err := s.store.Save(ctx, sourceID, bytes.NewReader(data), int64(len(data))); err != nil {
			return fail(stageStage, err)
		}
		staged = true
	}
	// a failed upload must not be picked up later by SyncStaged
	abort := func(stage string, err error) (int, error) {
		if staged {
			s.unstage(ctx, sourceID)
		}
		return fail(stage, err)
	}

	texts := make([]string, len(frags))
	for i, f := range frags {
		texts[i] = f.Content
	}
	embedCtx, embedDone := startStage(ctx, stageEmbed, attribute.Int("fragments", len(texts)))
	vecs, err := s.embedder.EmbedBatch(embedCtx, texts, ai.TaskRetrievalDocument)
	embedDone(err)
	if err != nil {
		return abort(stageEmbed, ai.WrapEmbeddingError(err))
	}

	entries := make([]model.Entry, len(frags))
	for i, f := range frags {
		entries[i] = model.Entry{Fragment: f, Vector: vecs[i]}
	}
	indexCtx, indexDone := startStage(ctx, stageIndex)
	err = s.index.Insert(indexCtx, entries)
	indexDone(err)
	if err != nil {
		return abort(stageIndex, err)
	}
	return len(entries), nil
}

func (s *RAGService) unstage(ctx context.Context, sourceID string) {
	// the ingest context may already be cancelled
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Delete(ctx, sourceID); err != nil {
		logutil.GetLogger(ctx).Error("remove staged document failed",
			zap.String("source_id", sourceID), zap.Error(err))
	}
}

// Ask answers a question from the indexed documents.
func (s *RAGService) Ask(ctx context.Context, q model.Query) (*model.Answer, error) {
	ctx, done := startStage(ctx, "ask")
	answer, outcome, err := s.ask(ctx, q)
	done(err)
	queryTotal.WithLabelValues(outcome).Inc()
	logger := logutil.GetLogger(ctx).With(zap.String("outcome", outcome))
	if err != nil {
		logger.Error("answer question failed", zap.Error(err))
		return nil, err
	}
	logger.Info("question answered", zap.Int("sources", len(answer.Sources)))
	return answer, nil
}

func (s *RAGService) ask(ctx context.Context, q model.Query) (*model.Answer, string, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, "error", fmt.Errorf("empty query: %w", appErr.ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) > s.opts.MaxQueryChars {
		return nil, "error", fmt.Errorf("query longer than %d characters: %w", s.opts.MaxQueryChars, appErr.ErrInvalidQuery)
	}
	if !s.moderator.IsAllowed(text) {
		return &model.Answer{Text: moderation.RefusalAnswer, Sources: []model.Citation{}}, "refused", nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = s.opts.TopK
	}
	threshold := s.opts.Threshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}

	retrieveCtx, retrieveDone := startStage(ctx, "retrieve")
	res, err := s.retriever.Retrieve(retrieveCtx, text, topK, threshold)
	retrieveDone(err)
	if err != nil {
		return nil, "error", err
	}
	synthCtx, synthDone := startStage(ctx, "synthesize", attribute.Int("candidates", len(res.Candidates)))
	answer, err := s.synth.Synthesize(synthCtx, text, res)
	synthDone(err)
	if err != nil {
		return nil, "error", err
	}
	if answer.Grounded {
		return answer, "grounded", nil
	}
	return answer, "ungrounded", nil
}

// SyncStaged ingests every staged document the index does not hold yet.
// Retryable embedding failures are retried with exponential backoff; other
// failures are collected and reported together.
func (s *RAGService) SyncStaged(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	logger := logutil.GetLogger(ctx)
	keys, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list staged documents: %w", err)
	}
	var errs []error
	added := 0
	for _, key := range keys {
		if !loader.Supported(key) {
			continue
		}
		exists, err := s.index.HasSource(ctx, key)
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}
		if err := s.ingestStaged(ctx, key); err != nil {
			if ctx.Err() != nil {
				return added, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		added++
	}
	if added > 0 || len(errs) > 0 {
		logger.Info("staged documents synced", zap.Int("added", added), zap.Int("failed", len(errs)))
	}
	return added, errors.Join(errs...)
}

func (s *RAGService) ingestStaged(ctx context.Context, key string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.opts.SyncRetries), ctx)
	op := func() error {
		data, err := s.readStaged(ctx, key)
		if err != nil {
			return backoff.Permanent(err)
		}
		n, err := s.ingest(ctx, data, key, false)
		s.recordIngest(ctx, key, n, err)
		if err != nil && !appErr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, policy)
}

func (s *RAGService) readStaged(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open staged %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, s.opts.MaxDocBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read staged %s: %w", key, err)
	}
	return data, nil
}

// Bootstrap fills an empty index from the staged documents.
func (s *RAGService) Bootstrap(ctx context.Context) error {
	n, err := s.index.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 || s.store == nil {
		return nil
	}
	logutil.GetLogger(ctx).Info("index empty, building from staged documents")
	_, err = s.SyncStaged(ctx)
	return err
}

func (s *RAGService) Stats(ctx context.Context) (map[string]interface{}, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"fragments":       n,
		"embedding_model": s.embedder.ModelName(),
	}, nil
}
