package queue

import (
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docintake/constants"
)

// Transport bundles the task and result channels over one broker.
type Transport struct {
	Tasks   *Channel[TaskMessage]
	Results *Channel[ResultMessage]
	broker  Broker
}

// NewTransport builds both channels. broker may be nil for local-only mode.
func NewTransport(broker Broker, poll time.Duration, logger *slog.Logger) (*Transport, error) {
	taskCodec, err := TaskCodec()
	if err != nil {
		return nil, err
	}
	resultCodec, err := ResultCodec()
	if err != nil {
		return nil, err
	}
	return &Transport{
		Tasks:   NewChannel(constants.TaskQueue, broker, taskCodec, poll, logger),
		Results: NewChannel(constants.ResultQueue, broker, resultCodec, poll, logger),
		broker:  broker,
	}, nil
}

// Degraded reports whether either channel is running on the local fallback.
func (t *Transport) Degraded() bool {
	return t.Tasks.Degraded() || t.Results.Degraded()
}

// LocalBacklog is the number of messages held in the fallback queues.
func (t *Transport) LocalBacklog() int {
	return t.Tasks.LocalLen() + t.Results.LocalLen()
}

// HasBroker reports whether a broker is configured.
func (t *Transport) HasBroker() bool { return t.broker != nil }

func (t *Transport) Close() error {
	if t.broker == nil {
		return nil
	}
	return t.broker.Close()
}
