package router

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"docchat/internal/domain"
)

// ContextRetriever finds the document context for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int, threshold float64) (domain.RetrievedContext, error)
}

type Config struct {
	TopK      int
	Threshold float64
	// GenerateTimeout bounds one generator call. Zero leaves it to the
	// caller's context.
	GenerateTimeout time.Duration
}

// Router answers a question on exactly one path: grounded when retrieval
// found context, general otherwise. A failed generation is never retried on
// the other path.
type Router struct {
	retriever ContextRetriever
	generator domain.Generator
	cfg       Config
	log       logrus.FieldLogger
}

func New(retriever ContextRetriever, generator domain.Generator, cfg Config, log logrus.FieldLogger) *Router {
	return &Router{retriever: retriever, generator: generator, cfg: cfg, log: log}
}

// Answer returns the exchange for question. On generation failure the
// exchange carries the attempted provenance and a user-facing message, and
// the error is a *domain.GenerationError. A retrieval model mismatch is
// returned before any generation.
func (r *Router) Answer(ctx context.Context, question string) (domain.QAExchange, error) {
	ex := domain.QAExchange{Question: question}

	rc, err := r.retriever.Retrieve(ctx, question, r.cfg.TopK, r.cfg.Threshold)
	if err != nil {
		ex.Answer = domain.UserMessage(err)
		return ex, err
	}

	var prompt string
	if len(rc) > 0 {
		ex.Provenance = domain.ProvenanceGrounded
		ex.Context = rc
		prompt = GroundedPrompt(question, rc.Texts())
	} else {
		ex.Provenance = domain.ProvenanceGeneral
		prompt = GeneralPrompt(question)
	}
	log := r.log.WithFields(logrus.Fields{"provenance": ex.Provenance, "context": len(rc)})

	gctx := ctx
	if r.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, r.cfg.GenerateTimeout)
		defer cancel()
	}
	start := time.Now()
	answer, err := r.generator.Generate(gctx, prompt)
	if err != nil {
		gerr := &domain.GenerationError{Provenance: ex.Provenance, Err: err}
		log.WithError(err).Error("answer generation failed")
		ex.Answer = domain.UserMessage(gerr)
		return ex, gerr
	}
	log.WithField("elapsed", time.Since(start)).Debug("answer generated")

	answer = strings.TrimSpace(answer)
	if ex.Provenance == domain.ProvenanceGeneral {
		answer = GeneralAnswerPrefix + answer
	}
	ex.Answer = answer
	return ex, nil
}
