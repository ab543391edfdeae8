package fullnode

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/darwayne/utxo-ledger/internal/core/storage"
	"github.com/darwayne/utxo-ledger/pkg/events"
)

// feedTopic is the node's new-transaction publication topic.
const feedTopic = "network:new_tx"

// Feed subscribes to a node's zmq transaction feed and republishes decoded
// transactions on an events bus.
type Feed struct {
	endpoint string
	bus      *events.Bus[*storage.HistoryTx]
	log      *zap.Logger
}

// NewFeed builds a feed for a zmq endpoint such as tcp://node:29000.
func NewFeed(endpoint string, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		endpoint: endpoint,
		bus:      events.NewBus[*storage.HistoryTx](),
		log:      log,
	}
}

// Bus exposes the fan-out bus for subscribers.
func (f *Feed) Bus() *events.Bus[*storage.HistoryTx] { return f.bus }

// Run blocks consuming the feed until the context ends or the socket
// fails. The bus stays open across reconnect attempts by the caller.
func (f *Feed) Run(ctx context.Context) error {
	sock := zmq4.NewSub(ctx)
	defer sock.Close()

	if err := sock.Dial(f.endpoint); err != nil {
		return errors.Wrapf(err, "error dialing %s", f.endpoint)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, feedTopic); err != nil {
		return errors.Wrap(err, "error subscribing to feed topic")
	}
	f.log.Info("transaction feed connected", zap.String("endpoint", f.endpoint))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "error receiving feed message")
		}
		if len(msg.Frames) != 2 || !bytes.Equal(msg.Frames[0], []byte(feedTopic)) {
			continue
		}
		tx := &storage.HistoryTx{}
		if err := json.Unmarshal(msg.Frames[1], tx); err != nil {
			f.log.Warn("dropping undecodable feed transaction", zap.Error(err))
			continue
		}
		f.bus.Publish(tx)
	}
}
