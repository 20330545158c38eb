package ledfxd

import (
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/typ.v4/sync2"
)

// Reporter receives status documents emitted after a command is handled.
type Reporter interface {
	Report(doc *structpb.Struct)
}

// Reports fans status documents out to every subscriber. A subscriber that
// falls behind misses documents instead of blocking the command handlers.
type Reports struct {
	subs   sync2.Map[chan *structpb.Struct, struct{}]
	logger *slog.Logger
}

var _ Reporter = (*Reports)(nil)

// NewReports creates a new report hub.
func NewReports(logger *slog.Logger) *Reports {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reports{logger: logger}
}

// Report implements Reporter.
func (r *Reports) Report(doc *structpb.Struct) {
	r.subs.Range(func(ch chan *structpb.Struct, _ struct{}) bool {
		select {
		case ch <- doc:
		default:
			r.logger.Debug("dropping report for slow subscriber")
		}
		return true
	})
}

// Subscribe returns a channel receiving every report from now on, buffering up
// to size reports. The returned function unsubscribes.
func (r *Reports) Subscribe(size int) (<-chan *structpb.Struct, func()) {
	ch := make(chan *structpb.Struct, size)
	r.subs.Store(ch, struct{}{})
	return ch, func() { r.subs.Delete(ch) }
}
