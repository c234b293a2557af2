package pipeline

import (
	"fmt"

	"github.com/BaSui01/queryflow/types"
)

// State 管线状态。
type State string

const (
	StateDeciding        State = "DECIDING"
	StateRetrieving      State = "RETRIEVING"
	StateGrading         State = "GRADING"
	StateQualityCheck    State = "QUALITY_CHECK"
	StateRewriting       State = "REWRITING"
	StateGenerating      State = "GENERATING"
	StateConfidenceCheck State = "CONFIDENCE_CHECK"
	StateResponding      State = "RESPONDING"
	StateInsufficient    State = "INSUFFICIENT"
	StateDone            State = "DONE"
	StateErrored         State = "ERRORED"
)

// Terminal 报告状态是否为终态。
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}

// Signal 驱动状态转换的信号。
type Signal string

const (
	// SignalProceed 常规推进
	SignalProceed Signal = "proceed"
	// SignalRewrite 质量闸门未通过且仍有改写额度
	SignalRewrite Signal = "rewrite"
	// SignalGenerate 闸门通过、改写额度耗尽或重复防护触发，进入合成
	SignalGenerate Signal = "generate"
	// SignalAccept 置信度达标
	SignalAccept Signal = "accept"
	// SignalReject 置信度不足
	SignalReject Signal = "reject"
	// SignalFail 不可恢复错误
	SignalFail Signal = "fail"
)

// transitions 是完整的合法转换表。
var transitions = map[State]map[Signal]State{
	StateDeciding: {
		SignalProceed: StateRetrieving,
		SignalFail:    StateErrored,
	},
	StateRetrieving: {
		SignalProceed: StateGrading,
		SignalFail:    StateErrored,
	},
	StateGrading: {
		SignalProceed: StateQualityCheck,
		SignalFail:    StateErrored,
	},
	StateQualityCheck: {
		SignalRewrite:  StateRewriting,
		SignalGenerate: StateGenerating,
		SignalFail:     StateErrored,
	},
	StateRewriting: {
		SignalProceed:  StateDeciding,
		SignalGenerate: StateGenerating,
		SignalFail:     StateErrored,
	},
	StateGenerating: {
		SignalProceed: StateConfidenceCheck,
		SignalFail:    StateErrored,
	},
	StateConfidenceCheck: {
		SignalAccept: StateResponding,
		SignalReject: StateInsufficient,
		SignalFail:   StateErrored,
	},
	StateResponding: {
		SignalProceed: StateDone,
	},
	StateInsufficient: {
		SignalProceed: StateDone,
	},
}

// Transition 是纯转换函数：(state, signal) → nextState。
// 非法组合返回 INVALID_TRANSITION 错误，状态只会单调前进。
func Transition(s State, sig Signal) (State, error) {
	next, ok := transitions[s][sig]
	if !ok {
		return s, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("no transition from %s on %s", s, sig))
	}
	return next, nil
}

// PipelineState 是单个请求的可变状态，由一次编排运行独占持有，
// 运行结束后即丢弃。不跨并发请求共享。
type PipelineState struct {
	Question         string
	RewrittenQueries []string
	Attempts         int
	Candidates       []types.Candidate
	Graded           []types.ScoredDocument
	Filtered         []types.ScoredDocument
	Confidence       float64
	Answer           string
	Sources          []types.Source
}

// CurrentQuery 返回当前生效的查询：最近一次改写，未改写时为原始问题。
func (p *PipelineState) CurrentQuery() string {
	if n := len(p.RewrittenQueries); n > 0 {
		return p.RewrittenQueries[n-1]
	}
	return p.Question
}
