package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/metrics"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// PostContext is the analysis of one post. Err is set when only the raw content could be
// recovered.
type PostContext struct {
	Content   string
	PostID    string
	Author    string
	Timestamp time.Time
	Sentiment string
	Keywords  []string
	Err       error
}

type cachedSignals struct {
	Sentiment string   `json:"sentiment"`
	Keywords  []string `json:"keywords"`
}

// ContextAnalyzer derives sentiment and keywords for posts.
type ContextAnalyzer struct {
	store      ports.DiscourseStore
	completion *CompletionClient
	cache      ports.Cache
	cacheTTL   int
	analysis   PersonaConfig
	logger     zerolog.Logger
}

// NewContextAnalyzer analyzes with the given credentials, one attempt per signal.
func NewContextAnalyzer(store ports.DiscourseStore, completion *CompletionClient, cache ports.Cache, cacheTTLSeconds int, creds discourse.Credentials, logger zerolog.Logger) *ContextAnalyzer {
	return &ContextAnalyzer{
		store:      store,
		completion: completion,
		cache:      cache,
		cacheTTL:   cacheTTLSeconds,
		analysis: PersonaConfig{
			Persona:     discourse.Persona{ID: "analyzer", Username: "analyzer"},
			Credentials: creds,
			Retry:       RetryPolicy{MaxAttempts: 1},
		},
		logger: logger.With().Str("component", "analyzer").Logger(),
	}
}

// WithModel analyzes against model instead of the default credentials' model. An empty
// model keeps the default.
func (a *ContextAnalyzer) WithModel(model string) *ContextAnalyzer {
	a.analysis = a.analysis.WithModel(model)
	return a
}

// Analyze never fails. Reposts are analyzed through their source; signal failures
// degrade to neutral sentiment and no keywords.
func (a *ContextAnalyzer) Analyze(ctx context.Context, post discourse.Post) PostContext {
	subject := post
	if post.IsRepost() {
		src, err := a.store.GetPost(ctx, *post.RepostSourceID)
		if err != nil {
			a.logger.Warn().Err(err).Str("post_id", post.ID).Msg("Could not resolve repost source")
			return PostContext{Content: post.Content, Err: fmt.Errorf("resolve repost source: %w", err)}
		}
		subject = src
	}

	pc := PostContext{
		Content:   subject.Content,
		PostID:    post.ID,
		Author:    post.Author.Username,
		Timestamp: post.CreatedAt,
		Sentiment: SentimentNeutral,
	}

	key := analysisCacheKey(subject.Content)
	if raw, ok := a.cache.Get(ctx, key); ok {
		var cached cachedSignals
		if err := json.Unmarshal(raw, &cached); err == nil {
			metrics.AnalysisCacheHits.Inc()
			pc.Sentiment = cached.Sentiment
			pc.Keywords = cached.Keywords
			return pc
		}
	}

	var sentiment string
	var keywords []string
	var sentimentErr, keywordsErr error

	var wg conc.WaitGroup
	wg.Go(func() { sentiment, sentimentErr = a.sentiment(ctx, subject.Content) })
	wg.Go(func() { keywords, keywordsErr = a.keywords(ctx, subject.Content) })
	if r := wg.WaitAndRecover(); r != nil {
		a.logger.Error().Str("post_id", post.ID).Str("panic", r.String()).Msg("Post analysis panicked")
		return pc
	}

	if sentimentErr == nil {
		pc.Sentiment = sentiment
	} else {
		a.logger.Debug().Err(sentimentErr).Str("post_id", post.ID).Msg("Sentiment defaulted to neutral")
	}
	if keywordsErr == nil {
		pc.Keywords = keywords
	} else {
		a.logger.Debug().Err(keywordsErr).Str("post_id", post.ID).Msg("Keywords defaulted to none")
	}

	if sentimentErr == nil && keywordsErr == nil {
		if raw, err := json.Marshal(cachedSignals{Sentiment: pc.Sentiment, Keywords: pc.Keywords}); err == nil {
			_ = a.cache.Set(ctx, key, raw, a.cacheTTL)
		}
	}
	return pc
}

func (a *ContextAnalyzer) sentiment(ctx context.Context, text string) (string, error) {
	out, err := a.completion.CompleteRaw(ctx, sentimentInstruction, text, a.analysis)
	if err != nil {
		return "", err
	}
	return parseSentiment(out), nil
}

func (a *ContextAnalyzer) keywords(ctx context.Context, text string) ([]string, error) {
	out, err := a.completion.CompleteRaw(ctx, keywordsInstruction, text, a.analysis)
	if err != nil {
		return nil, err
	}
	return parseKeywords(out), nil
}

// parseSentiment maps a model answer onto the label set; anything else is neutral.
func parseSentiment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".!\"' ")
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return s
	}
	return SentimentNeutral
}

func parseKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func analysisCacheKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "analysis:" + hex.EncodeToString(sum[:])
}
