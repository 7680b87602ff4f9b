package pipeline

import "sync"

// EventType identifies pipeline events.
type EventType int

const (
	EventStageStarted  EventType = iota // data: Stage
	EventStageFinished                  // data: Stage
	EventWarning                        // data: Warning
	EventArtifact                       // data: Artifact
)

// Stage names a pipeline step.
type Stage string

const (
	StageDecode       Stage = "decode"
	StageStabilize    Stage = "stabilize"
	StageBandpass     Stage = "bandpass"
	StageEnergy       Stage = "energy"
	StageTensor       Stage = "tensor"
	StageCompose      Stage = "compose"
	StagePyramid      Stage = "pyramid"
	StageDisplacement Stage = "displacement"
	StageEncode       Stage = "encode"
	StageReport       Stage = "report"
)

// Artifact is a file produced by a run.
type Artifact struct {
	Kind string
	Path string
}

// EventListener is called synchronously when an event occurs.
type EventListener func(data any)

type events struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
}

func (e *events) on(event EventType, listener EventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[EventType][]EventListener)
	}
	e.listeners[event] = append(e.listeners[event], listener)
}

func (e *events) emit(event EventType, data any) {
	e.mu.RLock()
	listeners := e.listeners[event]
	e.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}
