package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"

	defaultBatchSize = 64
)

var (
	ErrUnavailable = errors.New("ai provider unavailable")
	// ErrTransient marks provider failures worth retrying: rate limiting and
	// server side errors.
	ErrTransient = errors.New("transient ai provider failure")
)

type IProvider interface {
	Name() string
	Generate(ctx context.Context, model string, prompt string) (string, error)
	Embed(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error)
}

type IGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// IEmbedder maps text to vectors. EmbedBatch returns one vector per input, in
// input order.
type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error)
	ModelName() string
}

type generator struct {
	provider IProvider
	model    string
}

func NewGenerator(p IProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.provider.Generate(ctx, g.model, prompt)
}

type embedder struct {
	provider  IProvider
	model     string
	batchSize int
	timeout   time.Duration
}

// NewEmbedder binds a provider to one embedding model. Every error it returns
// is an *errors.EmbeddingError.
func NewEmbedder(p IProvider, model string, batchSize int, timeout time.Duration) IEmbedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &embedder{provider: p, model: model, batchSize: batchSize, timeout: timeout}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		batch := texts[start:min(start+e.batchSize, len(texts))]
		vecs, err := e.embedOnce(ctx, batch, taskType)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *embedder) embedOnce(ctx context.Context, batch []string, taskType string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	vecs, err := e.provider.Embed(ctx, e.model, batch, taskType)
	if err != nil {
		return nil, WrapEmbeddingError(err)
	}
	if len(vecs) != len(batch) {
		return nil, &appErr.EmbeddingError{
			Err: fmt.Errorf("%s returned %d vectors for %d inputs", e.provider.Name(), len(vecs), len(batch)),
		}
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, &appErr.EmbeddingError{Err: fmt.Errorf("%s returned an empty vector at %d", e.provider.Name(), i)}
		}
	}
	return vecs, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

// WrapEmbeddingError converts a provider failure into an EmbeddingError,
// flagging transient failures and expired deadlines as retryable.
func WrapEmbeddingError(err error) error {
	if err == nil {
		return nil
	}
	var embedErr *appErr.EmbeddingError
	if errors.As(err, &embedErr) {
		return err
	}
	retryable := errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
	return &appErr.EmbeddingError{Retryable: retryable, Err: err}
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

type ProviderFactory func(args interface{}) (IProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai provider type is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
