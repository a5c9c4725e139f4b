package game

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"go.uber.org/zap"
)

// ParticipantState 参与者连接状态
type ParticipantState string

const (
	StateConnecting   ParticipantState = "connecting"
	StateJoined       ParticipantState = "joined"
	StateReceiving    ParticipantState = "receiving"
	StateTriggering   ParticipantState = "triggering"
	StateDisconnected ParticipantState = "disconnected"
)

// 状态机事件
const (
	EventJoin    = "join"
	EventMessage = "message"
	EventTrigger = "trigger"
	EventDone    = "done"
	EventLeave   = "leave"
)

// StateTransition 状态转换定义
type StateTransition struct {
	From  ParticipantState
	Event string
	To    ParticipantState
}

var transitions = buildTransitions()

func buildTransitions() map[string]StateTransition {
	table := []StateTransition{
		{From: StateConnecting, Event: EventJoin, To: StateJoined},
		{From: StateJoined, Event: EventMessage, To: StateReceiving},
		{From: StateJoined, Event: EventTrigger, To: StateTriggering},
		{From: StateReceiving, Event: EventDone, To: StateJoined},
		{From: StateTriggering, Event: EventDone, To: StateJoined},
	}
	// 任何未断开的状态都可以断开
	for _, state := range []ParticipantState{StateConnecting, StateJoined, StateReceiving, StateTriggering} {
		table = append(table, StateTransition{From: state, Event: EventLeave, To: StateDisconnected})
	}

	m := make(map[string]StateTransition, len(table))
	for _, t := range table {
		m[transitionKey(t.From, t.Event)] = t
	}
	return m
}

func transitionKey(state ParticipantState, event string) string {
	return fmt.Sprintf("%s:%s", state, event)
}

// StateMachine 参与者状态机
type StateMachine struct {
	mu         sync.RWMutex
	current    ParticipantState
	connID     string
	lastUpdate time.Time
	logger     *zap.Logger

	onStateChange func(from, to ParticipantState)
}

// NewStateMachine 创建参与者状态机
func NewStateMachine(connID string, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		current:    StateConnecting,
		connID:     connID,
		lastUpdate: time.Now(),
		logger:     logger,
	}
}

// Trigger 触发事件，无效转换返回ErrInvalidTransition
func (sm *StateMachine) Trigger(event string) error {
	sm.mu.Lock()
	t, ok := transitions[transitionKey(sm.current, event)]
	if !ok {
		state := sm.current
		sm.mu.Unlock()
		return apperrors.Newf(apperrors.ErrInvalidTransition, "状态=%s, 事件=%s", state, event)
	}
	from := sm.current
	sm.current = t.To
	sm.lastUpdate = time.Now()
	cb := sm.onStateChange
	sm.mu.Unlock()

	if cb != nil {
		cb(from, t.To)
	}
	sm.logger.Debug("状态转换",
		zap.String("conn_id", sm.connID),
		zap.String("from", string(from)),
		zap.String("to", string(t.To)),
		zap.String("event", event))
	return nil
}

// GetState 获取当前状态
func (sm *StateMachine) GetState() ParticipantState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransition 检查是否可以转换
func (sm *StateMachine) CanTransition(event string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := transitions[transitionKey(sm.current, event)]
	return ok
}

// OnStateChange 设置状态变更回调
func (sm *StateMachine) OnStateChange(fn func(from, to ParticipantState)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = fn
}
