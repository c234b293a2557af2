package pipeline

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/queryflow/metrics"
	"github.com/BaSui01/queryflow/synthesis"
	"github.com/BaSui01/queryflow/types"
)

// Retriever 混合检索入口。
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]types.Candidate, error)
}

// DocumentGrader 对候选文档逐一打分。
type DocumentGrader interface {
	Grade(ctx context.Context, question string, candidates []types.Candidate) ([]types.ScoredDocument, error)
}

// QueryRewriter 在证据不足时改写查询。
type QueryRewriter interface {
	Rewrite(ctx context.Context, original string, prior []string, evidence []types.ScoredDocument) (string, bool, error)
}

// AnswerSynthesizer 基于证据合成答案，可选流式输出。
// FitEvidence 返回合成时实际使用的证据子集（token 预算截断后），
// 置信度必须基于同一子集计算。
type AnswerSynthesizer interface {
	Streaming() bool
	FitEvidence(evidence []types.ScoredDocument) []types.ScoredDocument
	Synthesize(ctx context.Context, question string, evidence []types.ScoredDocument) (*synthesis.Draft, error)
	SynthesizeStream(ctx context.Context, question string, evidence []types.ScoredDocument) (<-chan synthesis.Token, []types.Source, error)
}

// ConfidenceScorer 对最终证据集计算置信度。
type ConfidenceScorer interface {
	Score(evidence []types.ScoredDocument) float64
	Accept(confidence float64) bool
}

// Orchestrator 驱动单次问答请求走完整个状态机。
// 它是事件的唯一生产者：每次 Run 返回一个独立的事件通道，
// 运行结束（含出错）后通道关闭。
type Orchestrator struct {
	config     Config
	retriever  Retriever
	grader     DocumentGrader
	rewriter   QueryRewriter
	synth      AnswerSynthesizer
	confidence ConfidenceScorer
	collector  *metrics.Collector
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewOrchestrator 构造编排器。collector 可为 nil；logger 为 nil 时使用 Nop。
func NewOrchestrator(
	config Config,
	retriever Retriever,
	grader DocumentGrader,
	rewriter QueryRewriter,
	synth AnswerSynthesizer,
	confidence ConfidenceScorer,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		config:     config,
		retriever:  retriever,
		grader:     grader,
		rewriter:   rewriter,
		synth:      synth,
		confidence: confidence,
		collector:  collector,
		tracer:     otel.Tracer("queryflow.pipeline"),
		logger:     logger.With(zap.String("component", "orchestrator")),
	}
}

// Run 启动一次请求处理，立即返回事件通道。
// 调用方取消 ctx 后编排器停止发送并尽快退出，终止语义由会话层补齐。
func (o *Orchestrator) Run(ctx context.Context, question string) <-chan types.Event {
	events := make(chan types.Event, o.config.EventBuffer)
	go func() {
		defer close(events)
		o.run(ctx, question, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, question string, events chan<- types.Event) {
	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.Int("question_length", len(question))))
	defer span.End()

	ps := &PipelineState{Question: question}
	state := StateDeciding
	var accepted bool

	for !state.Terminal() {
		var (
			signal Signal
			ok     bool
		)
		switch state {
		case StateDeciding:
			// 当前策略：所有问题都走检索路径。
			signal, ok = SignalProceed, true
		case StateRetrieving:
			signal, ok = o.retrieve(ctx, ps, events)
		case StateGrading:
			signal, ok = o.grade(ctx, ps, events)
		case StateQualityCheck:
			signal, ok = o.qualityCheck(ps, events), true
		case StateRewriting:
			signal, ok = o.rewriteQuery(ctx, ps, events)
		case StateGenerating:
			signal, ok, accepted = o.generate(ctx, ps, events)
		case StateConfidenceCheck:
			if accepted {
				signal = SignalAccept
			} else {
				signal = SignalReject
			}
			ok = true
		case StateResponding:
			ok = o.emit(ctx, events, types.DoneEvent(&types.AnswerEnvelope{
				Text:       ps.Answer,
				Confidence: ps.Confidence,
				Sources:    ps.Sources,
			}))
			signal = SignalProceed
		case StateInsufficient:
			ok = o.emit(ctx, events, types.InsufficientEvent(ps.Confidence, o.config.InsufficientMessage))
			signal = SignalProceed
		}
		if !ok && signal != SignalFail {
			// ctx 取消：停止发送，不补发终止事件。
			o.logger.Debug("run aborted by context", zap.String("state", string(state)))
			return
		}
		next, err := Transition(state, signal)
		if err != nil {
			o.logger.Error("illegal transition", zap.String("state", string(state)),
				zap.String("signal", string(signal)), zap.Error(err))
			o.emit(ctx, events, types.ErrorEvent(err.Error()))
			return
		}
		state = next
	}
}

// retrieve 执行混合检索。单索引故障由检索器内部降级，
// 两个索引都不可用视为不可恢复。
func (o *Orchestrator) retrieve(ctx context.Context, ps *PipelineState, events chan<- types.Event) (Signal, bool) {
	if !o.emit(ctx, events, types.StageEvent(string(StateRetrieving), types.StageRunning)) {
		return SignalProceed, false
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()
	start := time.Now()

	candidates, err := o.retriever.Retrieve(ctx, ps.CurrentQuery())
	o.collector.ObserveStage(string(StateRetrieving), time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return SignalProceed, false
		}
		return o.fail(ctx, events, string(StateRetrieving), err)
	}
	ps.Candidates = candidates
	o.logger.Debug("retrieval complete",
		zap.String("query", ps.CurrentQuery()), zap.Int("candidates", len(candidates)))
	if !o.emit(ctx, events, types.StageEvent(string(StateRetrieving), types.StageCompleted)) {
		return SignalProceed, false
	}
	return SignalProceed, true
}

// grade 给候选文档打相关度分。重排失败按可恢复处理：
// 视为零证据继续走质量闸门，而不是终止请求。
func (o *Orchestrator) grade(ctx context.Context, ps *PipelineState, events chan<- types.Event) (Signal, bool) {
	if !o.emit(ctx, events, types.StageEvent(string(StateGrading), types.StageRunning)) {
		return SignalProceed, false
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.grade")
	defer span.End()
	start := time.Now()

	graded, err := o.grader.Grade(ctx, ps.CurrentQuery(), ps.Candidates)
	o.collector.ObserveStage(string(StateGrading), time.Since(start))
	switch {
	case err == nil:
		ps.Graded = graded
	case ctx.Err() != nil:
		return SignalProceed, false
	case types.IsCode(err, types.ErrRerankFailed):
		o.logger.Warn("grading failed, continuing with empty evidence", zap.Error(err))
		ps.Graded = nil
	default:
		return o.fail(ctx, events, string(StateGrading), err)
	}
	ps.Filtered = filterAccepted(ps.Graded)
	if !o.emit(ctx, events, types.StageEvent(string(StateGrading), types.StageCompleted)) {
		return SignalProceed, false
	}
	return SignalProceed, true
}

// qualityCheck 判定证据是否足以直接生成。
// 未通过且仍有改写额度时改写，额度用尽时带着现有证据尽力生成。
func (o *Orchestrator) qualityCheck(ps *PipelineState, events chan<- types.Event) Signal {
	avg := types.AvgRelevance(ps.Filtered)
	pass := len(ps.Filtered) > 0 && avg >= o.config.GateThreshold
	o.logger.Debug("quality gate",
		zap.Bool("pass", pass),
		zap.Float64("avg_relevance", avg),
		zap.Int("evidence", len(ps.Filtered)),
		zap.Int("attempts", ps.Attempts))
	if pass {
		return SignalGenerate
	}
	if ps.Attempts < o.config.MaxRewrites {
		return SignalRewrite
	}
	return SignalGenerate
}

// rewriteQuery 改写查询。每次进入都消耗一次额度，无论改写是否被采纳，
// 这保证了重复防护触发时循环一定会终止。
func (o *Orchestrator) rewriteQuery(ctx context.Context, ps *PipelineState, events chan<- types.Event) (Signal, bool) {
	if !o.emit(ctx, events, types.StageEvent(string(StateRewriting), types.StageRunning)) {
		return SignalProceed, false
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.rewrite")
	defer span.End()
	start := time.Now()

	ps.Attempts++
	o.collector.IncRewrite()
	rewritten, usable, err := o.rewriter.Rewrite(ctx, ps.Question, ps.RewrittenQueries, ps.Filtered)
	o.collector.ObserveStage(string(StateRewriting), time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return SignalProceed, false
		}
		return o.fail(ctx, events, string(StateRewriting), err)
	}
	if !usable {
		o.logger.Debug("rewrite rejected, switching to best-effort generation",
			zap.Int("attempts", ps.Attempts))
		return SignalGenerate, true
	}
	ps.RewrittenQueries = append(ps.RewrittenQueries, rewritten)
	o.logger.Debug("query rewritten", zap.String("query", rewritten), zap.Int("attempts", ps.Attempts))
	if !o.emit(ctx, events, types.StageEvent(string(StateRewriting), types.StageCompleted)) {
		return SignalProceed, false
	}
	return SignalProceed, true
}

// generate 合成答案。置信度基于预算截断后、实际送入合成的证据集计算，
// 且只依赖证据集，因此先于合成执行，据此决定流式还是一次性生成：
// 置信度不达标时不向外流 token，
// 避免把注定要被 insufficient 替换的答案推给客户端。
func (o *Orchestrator) generate(ctx context.Context, ps *PipelineState, events chan<- types.Event) (Signal, bool, bool) {
	if !o.emit(ctx, events, types.StageEvent(string(StateGenerating), types.StageRunning)) {
		return SignalProceed, false, false
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.generate")
	defer span.End()
	start := time.Now()

	used := o.synth.FitEvidence(ps.Filtered)
	ps.Confidence = o.confidence.Score(used)
	accepted := o.confidence.Accept(ps.Confidence)
	span.SetAttributes(attribute.Float64("confidence", ps.Confidence))

	var err error
	if accepted && o.synth.Streaming() {
		err = o.generateStream(ctx, ps, used, events)
	} else {
		var draft *synthesis.Draft
		draft, err = o.synth.Synthesize(ctx, ps.CurrentQuery(), used)
		if err == nil {
			ps.Answer = draft.Text
			ps.Sources = draft.Sources
		}
	}
	o.collector.ObserveStage(string(StateGenerating), time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return SignalProceed, false, false
		}
		sig, ok := o.fail(ctx, events, string(StateGenerating), err)
		return sig, ok, false
	}
	if !o.emit(ctx, events, types.StageEvent(string(StateGenerating), types.StageCompleted)) {
		return SignalProceed, false, false
	}
	return SignalProceed, true, accepted
}

func (o *Orchestrator) generateStream(ctx context.Context, ps *PipelineState, evidence []types.ScoredDocument, events chan<- types.Event) error {
	tokens, sources, err := o.synth.SynthesizeStream(ctx, ps.CurrentQuery(), evidence)
	if err != nil {
		return err
	}
	ps.Sources = sources
	var builder strings.Builder
	count := 0
	for token := range tokens {
		builder.WriteString(token.Text)
		count++
		if !o.emit(ctx, events, types.TokenEvent(token.Text)) {
			return ctx.Err()
		}
	}
	o.collector.AddTokens(count)
	ps.Answer = strings.TrimSpace(builder.String())
	return ctx.Err()
}

// fail 发出阶段失败与错误事件并返回失败信号。
func (o *Orchestrator) fail(ctx context.Context, events chan<- types.Event, stage string, err error) (Signal, bool) {
	o.logger.Error("stage failed", zap.String("stage", stage), zap.Error(err))
	o.emit(ctx, events, types.StageEvent(stage, types.StageFailed))
	o.emit(ctx, events, types.ErrorEvent(err.Error()))
	return SignalFail, true
}

// emit 尝试发送事件；ctx 已取消时返回 false。
func (o *Orchestrator) emit(ctx context.Context, events chan<- types.Event, ev types.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func filterAccepted(docs []types.ScoredDocument) []types.ScoredDocument {
	filtered := make([]types.ScoredDocument, 0, len(docs))
	for _, doc := range docs {
		if doc.Accepted {
			filtered = append(filtered, doc)
		}
	}
	return filtered
}
