package signal

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Handler receives every signal as a JSON encoded Envelope.
type Handler func([]byte)

var (
	mu      sync.RWMutex
	handler Handler
)

type Envelope struct {
	Type  string      `json:"type"`
	Event interface{} `json:"event"`
}

func NewEnvelope(typ string, event interface{}) *Envelope {
	return &Envelope{
		Type:  typ,
		Event: event,
	}
}

// Send marshals the event and hands it to the registered handler, if any.
func Send(typ string, event interface{}) {
	data, err := json.Marshal(NewEnvelope(typ, event))
	if err != nil {
		zap.L().Error("marshalling signal", zap.String("type", typ), zap.Error(err))
		return
	}

	mu.RLock()
	h := handler
	mu.RUnlock()

	if h == nil {
		zap.L().Debug("no signal handler", zap.String("type", typ))
		return
	}
	h(data)
}

func SetSignalHandler(h Handler) {
	mu.Lock()
	defer mu.Unlock()
	handler = h
}

func ResetSignalHandler() {
	SetSignalHandler(nil)
}
