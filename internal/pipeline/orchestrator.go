// Package pipeline wires the retrieval stages into a single orchestrator:
// intent classification, candidate retrieval, scoring, diversity
// enforcement, fusion, and answer finalization.
package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"memfuse/internal/config"
	"memfuse/internal/diagnostics"
	"memfuse/internal/diversity"
	"memfuse/internal/embeddings"
	"memfuse/internal/envelope"
	"memfuse/internal/fusion"
	"memfuse/internal/intent"
	"memfuse/internal/llm"
	"memfuse/internal/logging"
	"memfuse/internal/retrieval"
	"memfuse/internal/rfcerrors"
	"memfuse/internal/salience"
	"memfuse/internal/storage"
	"memfuse/internal/temporal"
	"memfuse/pkg/types"
)

// charsPerToken is the rough character-to-token ratio used for card budgets
const charsPerToken = 4

// Options tune a single retrieval call
type Options struct {
	// SessionID scopes conversation-recall queries
	SessionID string

	// FinalCoreCount overrides the configured core card count when positive
	FinalCoreCount int
}

// Orchestrator runs the full retrieval pipeline for one query at a time per
// worker. It is safe for concurrent use; per-query state lives on the stack.
type Orchestrator struct {
	cfg *config.Config

	store      storage.VectorStore
	embedder   embeddings.Service
	classifier *intent.Classifier
	retriever  *retrieval.Retriever
	scorer     *salience.Scorer
	enforcer   *diversity.Enforcer
	composer   *fusion.Composer
	finalizer  *envelope.Finalizer
	generator  llm.Client
	sink       diagnostics.Sink
	snapshots  *SnapshotCache
	logger     logging.Logger

	// inFlight bounds concurrent pipeline executions
	inFlight chan struct{}
}

// NewOrchestrator wires the pipeline. generator and snapshots may be nil;
// retrieval works without them.
func NewOrchestrator(
	cfg *config.Config,
	store storage.VectorStore,
	embedder embeddings.Service,
	generator llm.Client,
	sink diagnostics.Sink,
	snapshots *SnapshotCache,
	logger logging.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if sink == nil {
		sink = diagnostics.NoopSink{}
	}

	weighter := temporal.NewWeighter(temporal.Config{
		HalfLifeTemporalDays: cfg.Temporal.HalfLifeTemporalDays,
		HalfLifeRecentDays:   cfg.Temporal.HalfLifeRecentDays,
		HalfLifeDefaultDays:  cfg.Temporal.HalfLifeDefaultDays,
		FloorTemporal:        cfg.Temporal.FloorTemporal,
		FloorDefault:         cfg.Temporal.FloorDefault,
		FreshBoost:           cfg.Temporal.FreshBoost,
	})

	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		embedder:   embedder,
		classifier: intent.NewClassifier(),
		retriever:  retrieval.NewRetriever(store, embedder, &cfg.Retrieval, logger),
		scorer:     salience.NewScorer(weighter, cfg.Penalty, logger),
		enforcer:   diversity.NewEnforcer(cfg.Quotas, logger),
		composer:   fusion.NewComposer(),
		finalizer:  envelope.NewFinalizer(),
		generator:  generator,
		sink:       sink,
		snapshots:  snapshots,
		logger:     logger.WithComponent("pipeline"),
		inFlight:   make(chan struct{}, cfg.Server.MaxInFlight),
	}
}

// Retrieve runs intent classification, retrieval, scoring, diversity
// enforcement, and fusion for a query, returning the fusion envelope.
// Cancellation is honored before retrieval, after retrieval, and before
// fusion. Non-fatal failures degrade into an envelope with a rationale.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, opts Options) (*types.FusionEnvelope, error) {
	select {
	case o.inFlight <- struct{}{}:
		defer func() { <-o.inFlight }()
	default:
		o.logger.Warn("pipeline overloaded, fast-failing", "max_in_flight", o.cfg.Server.MaxInFlight)
		return o.minimalEnvelope("", types.RationaleOverloaded), nil
	}

	traceID := logging.GetTraceID(ctx)
	if traceID == "" {
		traceID = logging.GenerateTraceID()
		ctx = logging.WithTraceID(ctx, traceID)
	}
	logger := o.logger.WithTraceID(traceID)
	started := time.Now()

	run := &runState{traceID: traceID, started: started}

	if ctx.Err() != nil {
		return o.minimalEnvelope(traceID, types.RationaleCancelled), nil
	}

	// Intent classification
	stageStart := time.Now()
	intentRes := o.classifier.Classify(query)
	hints := temporal.HintsFromQuery(query)
	run.emitStage(o.sink, "intent", stageStart, 0, string(intentRes.Intent))

	coreCount := o.cfg.Retrieval.FinalCoreCount
	if opts.FinalCoreCount > 0 {
		coreCount = opts.FinalCoreCount
	}

	// Retrieval under its own budget
	stageStart = time.Now()
	searchCtx, cancel := context.WithTimeout(ctx, o.cfg.SearchTimeout())
	retrieved, err := o.retriever.Retrieve(searchCtx, query, opts.SessionID, intentRes, coreCount)
	cancel()
	if err != nil {
		if rfcerrors.IsFatal(err) {
			return nil, err
		}
		rationale := types.RationaleStoreUnavailable
		if rfcerrors.CodeOf(err) == rfcerrors.CodeEmbeddingFailure {
			rationale = "embedding failure"
		}
		logger.Error("retrieval failed, degrading", "error", err, "rationale", rationale)
		return o.minimalEnvelope(traceID, rationale), nil
	}
	run.warnings = append(run.warnings, retrieved.Warnings...)
	run.emitStage(o.sink, "retrieval", stageStart, len(retrieved.Candidates), "")

	if ctx.Err() != nil {
		return o.minimalEnvelope(traceID, types.RationaleCancelled), nil
	}

	if !retrieved.HadCandidates {
		env := o.minimalEnvelope(traceID, types.RationaleNoCandidates)
		env.Diagnostics.Stages = run.stages
		o.finish(ctx, env, logger, started)
		return env, nil
	}

	var (
		selected    []types.Candidate
		gate        float64
		diversified *diversity.Result
	)

	if retrieved.RecallPath {
		selected = retrieved.Candidates
	} else {
		// Scoring
		stageStart = time.Now()
		scored := o.scorer.Score(retrieved.Candidates, hints)
		if o.cfg.Retrieval.UseDynamicGate {
			scored, gate = o.scorer.Gate(scored)
		}
		run.emitStage(o.sink, "salience", stageStart, len(scored), "")

		// Diversity enforcement
		stageStart = time.Now()
		diversified = o.enforcer.Enforce(scored, coreCount)
		selected = diversified.Selected
		run.warnings = append(run.warnings, diversified.Warnings...)
		run.emitStage(o.sink, "diversity", stageStart, len(selected),
			fmt.Sprintf("swaps=%d", diversified.Swaps))

		run.allScored = scored
	}

	if ctx.Err() != nil {
		return o.minimalEnvelope(traceID, types.RationaleCancelled), nil
	}

	// Fusion
	stageStart = time.Now()
	cards := o.buildCards(selected)
	cards = o.enforceContextBudget(cards, logger)
	fused := o.composer.Compose(cards)
	run.emitStage(o.sink, "fusion", stageStart, len(cards), string(fused.RoutingHint))

	env := &types.FusionEnvelope{
		TraceID:            traceID,
		MemoryCards:        cards,
		AvgSalience:        fused.AvgSalience,
		Coverage:           fused.Coverage,
		MemoryWeight:       fused.MemoryWeight,
		GeneralWeight:      fused.GeneralWeight,
		GKAllowance:        fused.GKAllowance,
		RoutingHint:        fused.RoutingHint,
		HadCandidates:      true,
		DynamicGate:        gate,
		LowConfidenceCount: fused.LowConfidenceCount,
		Rationale:          rationaleFor(intentRes, retrieved.RecallPath),
	}
	env.OrchestratorView = o.buildView(run.allScored, selected)
	env.Diagnostics = o.buildDiagnostics(run, retrieved, diversified, selected, cards)

	o.finish(ctx, env, logger, started)
	return env, nil
}

// Answer runs Retrieve, invokes the generator with the fused context, and
// finalizes the answer text. The envelope is returned alongside the text.
func (o *Orchestrator) Answer(ctx context.Context, query string, opts Options) (string, *types.FusionEnvelope, error) {
	env, err := o.Retrieve(ctx, query, opts)
	if err != nil {
		return "", nil, err
	}
	if o.generator == nil {
		return "", env, rfcerrors.New(rfcerrors.CodeValidation, "no generation backend configured")
	}

	raw, err := o.generator.Generate(ctx, BuildMessages(query, env), llm.Options{})
	if err != nil {
		return "", env, rfcerrors.Wrap(rfcerrors.CodeInternal, "generation failed", err)
	}

	return o.FinalizeAnswer(raw, query, env), env, nil
}

// FinalizeAnswer applies hedge stripping and footer enforcement to raw
// generator output using the envelope's fusion metrics.
func (o *Orchestrator) FinalizeAnswer(raw, query string, env *types.FusionEnvelope) string {
	hints := temporal.HintsFromQuery(query)
	return o.finalizer.Finalize(raw, envelope.Context{
		Coverage:          env.Coverage,
		UniqueSources:     env.Diagnostics.UniqueSources,
		IsTemporalQuery:   hints.IsTemporalQuery,
		TimestampCoverage: 1 - env.Diagnostics.TimestampFallbackPct/100,
		Query:             query,
		Cards:             env.MemoryCards,
	})
}

// runState accumulates per-query stage stats and warnings
type runState struct {
	traceID   string
	started   time.Time
	stages    []types.StageStats
	warnings  []string
	allScored []types.Candidate
}

func (r *runState) emitStage(sink diagnostics.Sink, stage string, start time.Time, candidates int, note string) {
	duration := time.Since(start)
	r.stages = append(r.stages, types.StageStats{
		Stage:      stage,
		Duration:   duration,
		Candidates: candidates,
		Note:       note,
	})
	sink.Emit(diagnostics.Event{
		TraceID:    r.traceID,
		Stage:      stage,
		Duration:   duration,
		Candidates: candidates,
		Note:       note,
		Time:       time.Now(),
	})
}

// buildCards converts selected candidates into prompt-ready memory cards,
// truncating each to the per-card budget. Budgets count characters, not
// bytes, so multi-byte content is never cut mid-rune.
func (o *Orchestrator) buildCards(selected []types.Candidate) []types.MemoryCard {
	cards := make([]types.MemoryCard, 0, len(selected))
	for _, c := range selected {
		content := truncateRunes(c.Chunk.Content, o.cfg.Retrieval.MaxMemoryLength)
		cards = append(cards, types.MemoryCard{
			Label:         fmt.Sprintf("[%s] %s", c.Chunk.Metadata.ChunkType, c.Chunk.Metadata.SourceID),
			Content:       content,
			Tokens:        utf8.RuneCountInString(content) / charsPerToken,
			Salience:      c.Salience,
			SourceID:      c.Chunk.Metadata.SourceID,
			LowConfidence: c.LowConfidence,
		})
	}
	return cards
}

// truncateRunes cuts s to at most max characters on a rune boundary
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// enforceContextBudget drops whole lowest-salience cards until the total
// content fits the context budget. Cards arrive sorted best first.
func (o *Orchestrator) enforceContextBudget(cards []types.MemoryCard, logger logging.Logger) []types.MemoryCard {
	total := 0
	for _, card := range cards {
		total += utf8.RuneCountInString(card.Content)
	}

	dropped := 0
	for total > o.cfg.Retrieval.MaxContextLength && len(cards) > 0 {
		last := len(cards) - 1
		total -= utf8.RuneCountInString(cards[last].Content)
		cards = cards[:last]
		dropped++
	}
	if dropped > 0 {
		logger.Debug("dropped cards to fit context budget",
			"dropped", dropped, "budget", o.cfg.Retrieval.MaxContextLength)
	}
	return cards
}

// buildView exposes additional scored candidates beyond the core set for
// observability. It never feeds the generator.
func (o *Orchestrator) buildView(scored, selected []types.Candidate) []types.MemoryCard {
	source := scored
	if len(source) == 0 {
		source = selected
	}
	limit := o.cfg.Retrieval.OrchestratorViewCount
	if len(source) > limit {
		source = source[:limit]
	}
	return o.buildCards(source)
}

func (o *Orchestrator) buildDiagnostics(run *runState, retrieved *retrieval.Result, diversified *diversity.Result, selected []types.Candidate, cards []types.MemoryCard) types.Diagnostics {
	diag := types.Diagnostics{
		Stages:              run.stages,
		CandidateCount:      len(retrieved.Candidates),
		SelectedCount:       len(cards),
		SessionsRepresented: retrieved.SessionsRepresented,
		TimelineSpanMinutes: retrieved.TimelineSpanMinutes,
		Warnings:            run.warnings,
	}

	if diversified != nil {
		diag.UniqueSources = diversified.UniqueSources
		diag.UniqueTypes = diversified.UniqueTypes
		diag.SourceHistogram = diversified.SourceHistogram
		diag.TypeHistogram = diversified.TypeHistogram
		diag.DiversitySwaps = diversified.Swaps
	} else {
		diag.SourceHistogram = make(map[string]int)
		diag.TypeHistogram = make(map[string]int)
		for _, c := range selected {
			diag.SourceHistogram[diversity.SourceKey(&c.Chunk)]++
			diag.TypeHistogram[string(c.Chunk.Metadata.ChunkType)]++
		}
		diag.UniqueSources = len(diag.SourceHistogram)
		diag.UniqueTypes = len(diag.TypeHistogram)
	}

	fallbacks := 0
	for _, c := range retrieved.Candidates {
		if c.Chunk.Metadata.TimestampFallback {
			fallbacks++
		}
	}
	if len(retrieved.Candidates) > 0 {
		diag.TimestampFallbackPct = 100 * float64(fallbacks) / float64(len(retrieved.Candidates))
	}

	if len(selected) > 0 {
		var sum float64
		diag.SalienceMin = selected[0].Salience
		diag.SalienceMax = selected[0].Salience
		for _, c := range selected {
			if c.TemporalMultiplier > 0 {
				sum += c.TemporalMultiplier
			} else {
				sum += 1.0
			}
			if c.Salience < diag.SalienceMin {
				diag.SalienceMin = c.Salience
			}
			if c.Salience > diag.SalienceMax {
				diag.SalienceMax = c.Salience
			}
		}
		diag.TemporalWeightAvg = sum / float64(len(selected))
	}

	return diag
}

// finish applies the soft cap warning and persists the snapshot
func (o *Orchestrator) finish(ctx context.Context, env *types.FusionEnvelope, logger logging.Logger, started time.Time) {
	if elapsed := time.Since(started); elapsed > o.cfg.SoftCap() {
		logger.Warn("pipeline exceeded soft cap",
			"elapsed_ms", elapsed.Milliseconds(), "soft_cap_s", o.cfg.Retrieval.SoftCapSeconds)
	}
	if o.snapshots != nil {
		o.snapshots.Save(ctx, env)
	}
	logger.Info("pipeline complete",
		"cards", len(env.MemoryCards),
		"memory_weight", env.MemoryWeight,
		"routing", string(env.RoutingHint),
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// minimalEnvelope is the degraded output for cancelled, overloaded, empty,
// and store-failure paths
func (o *Orchestrator) minimalEnvelope(traceID, rationale string) *types.FusionEnvelope {
	return &types.FusionEnvelope{
		TraceID:       traceID,
		MemoryCards:   []types.MemoryCard{},
		MemoryWeight:  0.2,
		GeneralWeight: 0.8,
		GKAllowance:   3,
		RoutingHint:   types.RoutingGeneralFirst,
		HadCandidates: false,
		Rationale:     rationale,
	}
}

// rationaleFor names the path that produced a populated envelope
func rationaleFor(intentRes types.IntentResult, recallPath bool) string {
	if recallPath {
		return fmt.Sprintf("conversation recall (%s scope)", intentRes.Scope)
	}
	return "knowledge retrieval"
}
