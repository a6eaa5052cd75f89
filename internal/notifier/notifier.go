// Package notifier dispatches a batch of TableChanges to the set of
// active clients, suppressing delivery back to the client that
// authored a change (echo suppression via wal.TableChange.ClientID)
// and isolating one client transport's failure from the rest of the
// batch.
package notifier

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/wal"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

// ClientTransport delivers one batch of changes to one connected
// client. lastLSN is the confirmed position of the batch being
// delivered, so a transport can ack how far its client has caught up.
// Implementations (e.g. internal/transport/wsbridge) must be safe for
// concurrent use, since Dispatch may call Send from multiple
// goroutines across clients.
type ClientTransport interface {
	ClientID() string
	Send(ctx context.Context, changes []wal.TableChange, lastLSN lsn.LSN) error
}

// Result summarizes one Dispatch call.
type Result struct {
	Total    int
	Notified int
	Skipped  int // suppressed as echo to the authoring client
	Failed   int
}

// Notifier fans a change batch out to registered client transports.
type Notifier struct {
	logger zerolog.Logger
}

// New builds a Notifier.
func New(logger zerolog.Logger) *Notifier {
	return &Notifier{logger: logger.With().Str("component", "notifier").Logger()}
}

// Dispatch delivers changes to every transport in clients, in the
// order changes were given, skipping any change whose originating
// client_id matches that transport's ClientID (echo suppression).
// lastLSN is the confirmed position of this batch, passed through to
// Send so a transport can ack how far its client has caught up. A
// failure from one transport's Send is logged and counted but does
// not prevent delivery to the remaining transports.
func (n *Notifier) Dispatch(ctx context.Context, changes []wal.TableChange, clients []ClientTransport, lastLSN lsn.LSN) Result {
	res := Result{Total: len(changes) * len(clients)}
	if len(changes) == 0 || len(clients) == 0 {
		return res
	}

	for _, c := range clients {
		deliverable := make([]wal.TableChange, 0, len(changes))
		for _, ch := range changes {
			if origin, ok := ch.ClientID(); ok && origin == c.ClientID() {
				res.Skipped++
				continue
			}
			deliverable = append(deliverable, ch)
		}
		if len(deliverable) == 0 {
			continue
		}

		if err := c.Send(ctx, deliverable, lastLSN); err != nil {
			res.Failed += len(deliverable)
			n.logger.Err(err).Str("client_id", c.ClientID()).Int("count", len(deliverable)).
				Msg("client notify failed")
			continue
		}
		res.Notified += len(deliverable)
	}

	return res
}
