package http2

import (
	fsm "github.com/smallnest/gofsm"
	slog "github.com/vearne/simplelog"

	"github.com/vearne/h2guard/config"
)

const (
	// bytes are being fed to the decoder, no limit exceeded yet
	PolicyAccumulating = "ACCUMULATING"
	// a limit was exceeded; feasibility of stream-level recovery pending
	PolicyStreamFailed = "STREAM-FAILED"
	// RST_STREAM emitted, remaining block bytes are being swallowed
	PolicyStreamReset = "STREAM-RESET"
	// recovery infeasible, the whole connection goes down
	PolicyConnAbort = "CONNECTION-ABORT"
)

const (
	EventLimitExceeded   = "LIMIT_EXCEEDED"
	EventResetFeasible   = "RESET_FEASIBLE"
	EventResetInfeasible = "RESET_INFEASIBLE"
	EventSwallowExceeded = "SWALLOW_EXCEEDED"
)

type OutcomeKind uint8

const (
	OutcomeNone OutcomeKind = iota
	OutcomeStreamReset
	OutcomeConnAbort
)

// ResetOutcome is the policy's verdict, consumed by the connection
// controller: reset only the offending stream, or abort the connection.
type ResetOutcome struct {
	Kind     OutcomeKind
	StreamID uint32
	Code     ErrCode
}

// LimitPolicy runs the state machine over a single header block's lifecycle.
// STREAM-RESET and CONNECTION-ABORT are terminal.
type LimitPolicy struct {
	streamID uint32
	limits   config.Limits

	State  string
	States []string

	swallowed int
	outcome   ResetOutcome
}

func NewLimitPolicy(streamID uint32, limits config.Limits) *LimitPolicy {
	var p LimitPolicy
	p.streamID = streamID
	p.limits = limits
	p.State = PolicyAccumulating
	p.States = []string{PolicyAccumulating}
	return &p
}

type LimitEventProcessor struct{}

func (p *LimitEventProcessor) Action(action string, fromState string, toState string, args []interface{}) error {
	lp := args[0].(*LimitPolicy)
	switch action {
	case "change-state":
		slog.Info("change-state, stream:%v, fromState:[%v] -> toState:[%v]",
			lp.streamID, fromState, toState)
	case "do-nothing":
		slog.Debug("do-nothing, stream:%v, current state:%v", lp.streamID, toState)
	default:
		slog.Debug("unknow action: %v, stream:%v", action, lp.streamID)
	}
	return nil
}

func (p *LimitEventProcessor) OnActionFailure(action string, fromState string, toState string, args []interface{}, err error) {

}

func (p *LimitEventProcessor) OnExit(fromState string, args []interface{}) {
}

func (p *LimitEventProcessor) OnEnter(toState string, args []interface{}) {
	lp := args[0].(*LimitPolicy)
	lp.State = toState
	lp.States = append(lp.States, toState)

	switch toState {
	case PolicyStreamReset:
		lp.outcome = ResetOutcome{
			Kind:     OutcomeStreamReset,
			StreamID: lp.streamID,
			Code:     ErrCodeEnhanceYourCalm,
		}
	case PolicyConnAbort:
		lp.outcome = ResetOutcome{
			Kind:     OutcomeConnAbort,
			StreamID: lp.streamID,
			Code:     ErrCodeEnhanceYourCalm,
		}
	}
}

func InitLimitFSM(processor fsm.EventProcessor) *fsm.StateMachine {
	delegate := &fsm.DefaultDelegate{P: processor}
	transitions := []fsm.Transition{
		{From: PolicyAccumulating, Event: EventLimitExceeded, To: PolicyStreamFailed, Action: "change-state"},
		{From: PolicyStreamFailed, Event: EventResetFeasible, To: PolicyStreamReset, Action: "change-state"},
		{From: PolicyStreamFailed, Event: EventResetInfeasible, To: PolicyConnAbort, Action: "change-state"},
		{From: PolicyStreamReset, Event: EventSwallowExceeded, To: PolicyConnAbort, Action: "change-state"},
	}
	return fsm.NewStateMachine(delegate, transitions...)
}

var limitFSM = InitLimitFSM(&LimitEventProcessor{})

func (p *LimitPolicy) trigger(event string) {
	err := limitFSM.Trigger(p.State, event, p)
	if err != nil {
		slog.Warn("limit policy trigger, stream:%v, state:%v, event:%v, err:%v",
			p.streamID, p.State, event, err)
	}
}

// Fail is invoked on the first limit violation of the block. volume is the
// compressed size observed so far. Stream-level recovery is feasible only
// when the block can still be drained within the configured margin;
// otherwise swallowing it would commit unbounded resources and the
// connection aborts instead.
func (p *LimitPolicy) Fail(volume int) ResetOutcome {
	if p.State != PolicyAccumulating {
		return p.outcome
	}
	p.trigger(EventLimitExceeded)
	if volume > p.limits.MaxHeaderSize+p.limits.MaxSwallowedBytes {
		p.trigger(EventResetInfeasible)
	} else {
		p.trigger(EventResetFeasible)
	}
	return p.outcome
}

// Swallow accounts n drained bytes after a stream reset. Crossing the
// margin promotes the reset to a connection abort.
func (p *LimitPolicy) Swallow(n int) ResetOutcome {
	if p.State != PolicyStreamReset {
		return p.outcome
	}
	p.swallowed += n
	if p.swallowed > p.limits.MaxSwallowedBytes {
		slog.Warn("swallowed %v bytes of reset stream %v, exceeds margin %v",
			p.swallowed, p.streamID, p.limits.MaxSwallowedBytes)
		p.trigger(EventSwallowExceeded)
	}
	return p.outcome
}

// VolumeExceeded reports whether the observed compressed volume of a
// still-accumulating block is already past any drainable margin. Triggers
// nothing by itself; the controller feeds the verdict back through Fail.
func (p *LimitPolicy) VolumeExceeded(volume int) bool {
	return p.State == PolicyAccumulating &&
		volume > p.limits.MaxHeaderSize+p.limits.MaxSwallowedBytes
}

func (p *LimitPolicy) Outcome() ResetOutcome {
	return p.outcome
}
