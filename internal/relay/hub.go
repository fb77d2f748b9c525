// Package relay implements the chat hub: it tracks open channels, validates
// and persists inbound messages, and fans them out to every open channel.
//
// All hub state is owned by the goroutine running Hub.Run. The exported
// On* methods only enqueue events, so channel opens, closes and messages are
// handled one at a time in arrival order.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/portalchat/internal/chat"
)

// ErrStopped is returned by calls that need the event loop after it has exited.
var ErrStopped = errors.New("relay: hub stopped")

// Channel is an open connection to one participant. Send must not block; it
// reports whether the payload was accepted for delivery.
type Channel interface {
	Send(payload []byte) bool
}

// Store is the durable history the hub appends accepted messages to.
type Store interface {
	Append(msg chat.Message) error
	Messages() ([]chat.Message, int, error)
}

// Options tune hub behaviour beyond the codec limits.
type Options struct {
	// ReplayHistory sends the stored log to each channel when it opens.
	ReplayHistory bool
	// AnonymousName replaces an empty sender name. Empty keeps names as sent.
	AnonymousName string
	// QueueSize is the event queue capacity.
	QueueSize int
}

const defaultQueueSize = 64

// Stats is a snapshot of hub counters.
type Stats struct {
	Channels         int    `json:"channels"`
	Received         uint64 `json:"received"`
	Persisted        uint64 `json:"persisted"`
	PersistFailures  uint64 `json:"persistFailures"`
	Malformed        uint64 `json:"malformed"`
	Rejected         uint64 `json:"rejected"`
	Deliveries       uint64 `json:"deliveries"`
	DeliveryFailures uint64 `json:"deliveryFailures"`
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventClosed
	eventMessage
	eventStats
)

type event struct {
	kind    eventKind
	channel Channel
	payload []byte
	reply   chan Stats
}

// Hub relays chat messages between open channels.
type Hub struct {
	codec chat.Codec
	store Store
	log   logrus.FieldLogger
	opts  Options

	channels map[Channel]struct{}
	stats    Stats

	events  chan event
	stopped chan struct{}
}

// NewHub creates a hub that validates with codec and persists into store.
// Run must be called for events to be processed.
func NewHub(codec chat.Codec, store Store, log logrus.FieldLogger, opts Options) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Hub{
		codec:    codec,
		store:    store,
		log:      log.WithField("component", "relay"),
		opts:     opts,
		channels: make(map[Channel]struct{}),
		events:   make(chan event, opts.QueueSize),
		stopped:  make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	h.log.Info("Hub started and ready to relay messages")

	for {
		select {
		case <-ctx.Done():
			h.log.WithField("channels", len(h.channels)).Info("Hub stopped")
			return
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

func (h *Hub) enqueue(ev event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.stopped:
		return false
	}
}

// OnChannelOpened registers ch as open.
func (h *Hub) OnChannelOpened(ch Channel) {
	if ch == nil {
		return
	}
	h.enqueue(event{kind: eventOpened, channel: ch})
}

// OnChannelClosed removes ch. Closing an unknown channel is a no-op.
func (h *Hub) OnChannelClosed(ch Channel) {
	if ch == nil {
		return
	}
	h.enqueue(event{kind: eventClosed, channel: ch})
}

// OnMessageReceived handles a raw frame from ch.
func (h *Hub) OnMessageReceived(ch Channel, raw []byte) {
	h.enqueue(event{kind: eventMessage, channel: ch, payload: raw})
}

// Stats returns the counters once every event queued before the call has
// been handled.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.events <- event{kind: eventStats, reply: reply}:
	case <-h.stopped:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-h.stopped:
		return Stats{}, ErrStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) handle(ev event) {
	switch ev.kind {
	case eventOpened:
		h.open(ev.channel)
	case eventClosed:
		h.close(ev.channel)
	case eventMessage:
		h.receive(ev.channel, ev.payload)
	case eventStats:
		s := h.stats
		s.Channels = len(h.channels)
		ev.reply <- s
	}
}

func (h *Hub) open(ch Channel) {
	h.channels[ch] = struct{}{}
	h.log.WithFields(logrus.Fields{
		"channel":  channelName(ch),
		"channels": len(h.channels),
	}).Info("Channel opened")

	if h.opts.ReplayHistory {
		h.replay(ch)
	}
}

func (h *Hub) replay(ch Channel) {
	msgs, skipped, err := h.store.Messages()
	if err != nil {
		h.log.WithError(err).Warn("Could not read history for replay")
		return
	}
	if skipped > 0 {
		h.log.WithField("skipped", skipped).Warn("Skipped unreadable history records")
	}
	if len(msgs) == 0 {
		return
	}

	payload, err := h.codec.EncodeBatch(msgs)
	if err != nil {
		h.log.WithError(err).Error("Could not encode history")
		return
	}
	h.deliver(ch, payload)
}

func (h *Hub) close(ch Channel) {
	if _, ok := h.channels[ch]; !ok {
		return
	}
	delete(h.channels, ch)
	h.log.WithFields(logrus.Fields{
		"channel":  channelName(ch),
		"channels": len(h.channels),
	}).Info("Channel closed")
}

func (h *Hub) receive(from Channel, raw []byte) {
	h.stats.Received++
	log := h.log.WithFields(logrus.Fields{
		"channel": channelName(from),
		"bytes":   len(raw),
	})

	msg, err := h.codec.Decode(raw)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrMalformed):
		h.stats.Malformed++
		log.WithError(err).Warn("Unparseable message; relaying as system message")
		h.broadcast(chat.SystemMessage(rawText(raw)))
		return
	default:
		h.reject(from, log, err)
		return
	}

	if msg.Name == "" && h.opts.AnonymousName != "" {
		msg.Name = h.opts.AnonymousName
	}
	// Re-encoding can grow the message, so the bound applies to what is relayed.
	if err := h.codec.CheckSize(msg); err != nil {
		h.reject(from, log, err)
		return
	}

	if err := h.store.Append(msg); err != nil {
		h.stats.PersistFailures++
		log.WithError(err).Error("Could not persist message; relaying anyway")
	} else {
		h.stats.Persisted++
	}

	log.WithField("name", msg.Name).Debug("Relaying message")
	h.broadcast(msg)
}

// broadcast sends msg as a one element batch to every open channel,
// including the one it came from.
func (h *Hub) broadcast(msg chat.Message) {
	payload, err := h.codec.EncodeBatch([]chat.Message{msg})
	if err != nil {
		h.log.WithError(err).Error("Could not encode broadcast")
		return
	}

	for _, ch := range lo.Keys(h.channels) {
		h.deliver(ch, payload)
	}
}

func (h *Hub) notify(ch Channel, text string) {
	if _, ok := h.channels[ch]; !ok {
		return
	}
	payload, err := h.codec.EncodeBatch([]chat.Message{chat.SystemMessage(text)})
	if err != nil {
		h.log.WithError(err).Error("Could not encode notice")
		return
	}
	h.deliver(ch, payload)
}

func (h *Hub) deliver(ch Channel, payload []byte) {
	h.stats.Deliveries++
	if !ch.Send(payload) {
		h.stats.DeliveryFailures++
		h.log.WithField("channel", channelName(ch)).Debug("Delivery failed")
	}
}

func (h *Hub) reject(from Channel, log logrus.FieldLogger, err error) {
	h.stats.Rejected++
	log.WithError(err).Warn("Message rejected")
	h.notify(from, rejectionText(h.codec, err))
}

// rawText returns raw as a string, quoted when it is not valid UTF-8 so the
// bytes survive encoding.
func rawText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strconv.Quote(string(raw))
}

func rejectionText(codec chat.Codec, err error) string {
	switch {
	case errors.Is(err, chat.ErrTooLarge):
		return fmt.Sprintf("message rejected: larger than %d bytes", codec.MaxWireSize)
	case errors.Is(err, chat.ErrSenderTooLong):
		return fmt.Sprintf("message rejected: name longer than %d characters", codec.MaxSenderLength)
	default:
		return "message rejected"
	}
}

func channelName(ch Channel) string {
	if s, ok := ch.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%p", ch)
}
