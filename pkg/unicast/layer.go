// SPDX-FileCopyrightText: 2025 Alvar Penning
// SPDX-FileCopyrightText: 2025 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package unicast

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gmesh/gmesh-go/pkg/sched"
	"github.com/gmesh/gmesh-go/pkg/stack"
)

// senderEntry is the send-side connection to one peer. The mutex guards
// seqno issuance together with the window insert, so issued seqnos enter the
// window in order and without gaps. connID is immutable for the entry's
// lifetime; a replacement entry always gets a strictly greater one.
type senderEntry struct {
	mutex     sync.Mutex
	win       *sendWindow
	nextSeqno uint64
	connID    uint64
}

// receiverEntry is the receive-side connection to one peer. It is only valid
// for the peer's connID it was created with; data carrying another connID
// supersedes the whole entry.
type receiverEntry struct {
	win    *recvWindow
	connID uint64
}

// Layer is the reliable unicast protocol element. It plugs between an
// unreliable datagram transport below and the next protocol layer above and
// turns per-peer message exchange into a lossless FIFO exactly-once stream.
type Layer struct {
	stack.Base

	cfg       Config
	scheduler *sched.Scheduler

	// sendTable and recvTable map a peer's Addr to its connection state.
	// recvMutex serializes receiver lifecycle changes (create, replace on
	// peer restart, remove); lookups go through the sync.Map directly.
	sendTable sync.Map
	recvTable sync.Map
	recvMutex sync.Mutex

	membersMutex sync.Mutex
	members      map[stack.Addr]struct{}

	connMutex  sync.Mutex
	lastConnID uint64

	local    stack.Addr
	ageCache *AgeOutCache

	started      atomic.Bool
	disconnected atomic.Bool
	undelivered  atomic.Int64

	stats Stats
}

// NewLayer creates a unicast Layer with the given Config, scheduling its
// timers on scheduler.
func NewLayer(cfg Config, scheduler *sched.Scheduler) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid unicast configuration: %w", err)
	}

	return &Layer{
		cfg:       cfg,
		scheduler: scheduler,
		members:   make(map[stack.Addr]struct{}),
	}, nil
}

// Name returns this layer's protocol name.
func (l *Layer) Name() string {
	return LayerName
}

// Start the Layer. A missing scheduler is a fatal configuration error.
func (l *Layer) Start() error {
	if l.scheduler == nil {
		return fmt.Errorf("no scheduler available")
	}

	if l.cfg.MaxRetransmitTime > 0 {
		cache, err := NewAgeOutCache(l.scheduler, l.cfg.MaxRetransmitTime, func(addr stack.Addr) {
			log.WithField("peer", addr).Info("Connection expired, tearing it down")
			l.removeConnection(addr)
		})
		if err != nil {
			return fmt.Errorf("starting age-out cache failed: %w", err)
		}
		l.ageCache = cache
	}

	l.started.Store(true)
	return nil
}

// Stop the Layer, tearing down all connections and timers.
func (l *Layer) Stop() error {
	l.started.Store(false)

	l.RemoveAllConnections()
	l.undelivered.Store(0)

	if l.ageCache != nil {
		l.ageCache.Stop()
		l.ageCache = nil
	}

	return nil
}

// Down handles an Event coming from the layer above.
func (l *Layer) Down(ctx context.Context, ev stack.Event) {
	switch ev := ev.(type) {
	case stack.MessageEvent:
		l.handleSend(ctx, ev.Msg)

	case stack.ViewEvent:
		l.handleViewChange(ev.View)
		l.PassDown(ctx, ev)

	case stack.SetLocalAddressEvent:
		l.local = ev.Addr
		l.PassDown(ctx, ev)

	case stack.ConnectEvent:
		l.disconnected.Store(false)
		l.PassDown(ctx, ev)

	case stack.DisconnectEvent:
		l.disconnected.Store(true)
		l.PassDown(ctx, ev)

	default:
		l.PassDown(ctx, ev)
	}
}

// Up handles an Event coming from the layer below.
func (l *Layer) Up(ctx context.Context, ev stack.Event) {
	switch ev := ev.(type) {
	case stack.MessageEvent:
		header, exists := ev.Msg.Header(LayerName)
		if !exists {
			l.PassUp(ctx, ev)
			return
		}
		l.handleUpMsg(ctx, ev.Msg, header.(*Header))

	case stack.ViewEvent:
		l.handleViewChange(ev.View)
		l.PassUp(ctx, ev)

	case stack.SetLocalAddressEvent:
		l.local = ev.Addr
		l.PassUp(ctx, ev)

	case stack.ConnectEvent:
		l.disconnected.Store(false)
		l.PassUp(ctx, ev)

	case stack.DisconnectEvent:
		l.disconnected.Store(true)
		l.PassUp(ctx, ev)

	default:
		l.PassUp(ctx, ev)
	}
}

// handleSend implements the send path: assign a seqno, stamp the header,
// buffer the message for retransmission and hand it to the transport.
func (l *Layer) handleSend(ctx context.Context, msg *stack.Message) {
	if msg.Dest == nil || !msg.Dest.IsUnicast() {
		l.PassDown(ctx, stack.MessageEvent{Msg: msg})
		return
	}

	if !l.started.Load() {
		log.WithField("msg", msg).Trace("Discarding message, unicast layer is not started")
		return
	}

	entry := l.senderFor(msg.Dest)

	var ackNo uint64
	if slot := ackSlotFrom(ctx); slot != nil {
		if seqno, ok := slot.takeIf(msg.Dest); ok {
			ackNo = seqno
		}
	}

	entry.mutex.Lock()
	seqno := entry.nextSeqno
	header := NewDataHeader(seqno, entry.connID, seqno == DefaultFirstSeqno, ackNo)
	msg.PutHeader(LayerName, header)
	entry.win.Add(seqno, msg)
	entry.nextSeqno++
	entry.mutex.Unlock()

	// Arming happens outside the seqno lock: scheduling is the costliest
	// step and delivery order at the receiver does not depend on it.
	if err := entry.win.Arm(seqno); err != nil {
		go l.armWithBackoff(entry, msg.Dest, seqno)
	}

	if ackNo > 0 {
		l.stats.AcksSent.Add(1)
	}
	l.stats.MsgsSent.Add(1)
	l.stats.BytesSent.Add(int64(msg.Len()))

	l.PassDown(ctx, stack.MessageEvent{Msg: msg})
}

// armWithBackoff retries arming a retransmission timer, doubling the delay
// from 100ms up to 3.2s for at most ten attempts. Failure is logged but
// never propagated; the send already went out.
func (l *Layer) armWithBackoff(entry *senderEntry, dest stack.Addr, seqno uint64) {
	delay := 100 * time.Millisecond
	for attempt := 0; attempt < 10; attempt++ {
		time.Sleep(delay)
		if delay < 3200*time.Millisecond {
			delay *= 2
		}

		if err := entry.win.Arm(seqno); err == nil {
			return
		}
	}

	log.WithFields(log.Fields{
		"peer":  dest,
		"seqno": seqno,
	}).Error("Arming retransmission timer failed repeatedly")
}

// senderFor looks up or creates the senderEntry for dest. A non-member
// destination is also tracked by the age-out cache.
func (l *Layer) senderFor(dest stack.Addr) *senderEntry {
	if entry, exists := l.sendTable.Load(dest); exists {
		return entry.(*senderEntry)
	}

	entry := &senderEntry{
		nextSeqno: DefaultFirstSeqno,
		connID:    l.nextConnID(),
	}
	entry.win = newSendWindow(l.cfg.Timeouts, l.scheduler, func(seqno uint64, msg *stack.Message) {
		l.stats.Xmits.Add(1)
		l.PassDown(context.Background(), stack.MessageEvent{Msg: msg})
	})

	if stored, loaded := l.sendTable.LoadOrStore(dest, entry); loaded {
		return stored.(*senderEntry)
	}

	log.WithFields(log.Fields{
		"peer":    dest,
		"conn_id": entry.connID,
	}).Debug("Created send connection")

	if l.ageCache != nil && !l.isMember(dest) {
		l.ageCache.Add(dest)
	}

	return entry
}

// nextConnID allocates a connection identifier from the wall clock,
// monotonically bumped on a same-millisecond collision.
func (l *Layer) nextConnID() uint64 {
	l.connMutex.Lock()
	defer l.connMutex.Unlock()

	id := uint64(time.Now().UnixMilli())
	if id <= l.lastConnID {
		id = l.lastConnID + 1
	}
	l.lastConnID = id
	return id
}

func (l *Layer) isMember(addr stack.Addr) bool {
	l.membersMutex.Lock()
	defer l.membersMutex.Unlock()

	_, exists := l.members[addr]
	return exists
}

// handleUpMsg dispatches a received unicast protocol message.
func (l *Layer) handleUpMsg(ctx context.Context, msg *stack.Message, header *Header) {
	src := msg.Src
	if src == nil {
		log.WithField("msg", msg).Error("Received unicast message without source address")
		return
	}

	switch header.Type {
	case Ack:
		l.handleAck(src, header.Seqno)

	case SendFirstSeqno:
		l.handleResendFirst(src)

	case Data:
		if header.AckNo > 0 {
			l.handleAck(src, header.AckNo)
		}
		l.handleData(ctx, src, header, msg)

	default:
		log.WithFields(log.Fields{
			"peer":   src,
			"header": header,
		}).Error("Received unicast message of unknown type")
	}
}

// handleAck applies a cumulative acknowledgement to the peer's send window.
func (l *Layer) handleAck(src stack.Addr, seqno uint64) {
	l.stats.AcksReceived.Add(1)

	entry, exists := l.sendTable.Load(src)
	if !exists {
		return
	}

	acked := entry.(*senderEntry).win.Ack(seqno)
	if acked > 0 {
		log.WithFields(log.Fields{
			"peer":  src,
			"seqno": seqno,
			"acked": acked,
		}).Trace("Acknowledgement removed messages from send window")
	}
}

// handleResendFirst answers a SEND_FIRST_SEQNO request: the lowest
// unacknowledged message is resent as a copy whose header carries the first
// flag, so the peer can re-establish its receiver state.
func (l *Layer) handleResendFirst(src stack.Addr) {
	entry, exists := l.sendTable.Load(src)
	if !exists {
		log.WithField("peer", src).Debug("No send connection for first-seqno request")
		return
	}

	seqno, msg, exists := entry.(*senderEntry).win.Lowest()
	if !exists {
		return
	}

	original, exists := msg.Header(LayerName)
	if !exists {
		log.WithFields(log.Fields{
			"peer":  src,
			"seqno": seqno,
		}).Error("Buffered message misses its unicast header")
		return
	}

	header := *original.(*Header)
	header.First = true

	cp := msg.Clone()
	cp.PutHeader(LayerName, &header)

	log.WithFields(log.Fields{
		"peer":  src,
		"seqno": seqno,
	}).Debug("Resending first message on request")

	l.PassDown(context.Background(), stack.MessageEvent{Msg: cp})
}

// receiverFor resolves the receiverEntry a data message belongs to,
// creating or replacing entries as the first flag and the connID demand. A
// false second return value signals that no valid receiver state exists and
// a SEND_FIRST_SEQNO request was issued instead.
func (l *Layer) receiverFor(src stack.Addr, header *Header) (*receiverEntry, bool) {
	existing, exists := l.recvTable.Load(src)

	if !header.First {
		if !exists || existing.(*receiverEntry).connID != header.ConnID {
			// No state for this stream: ask for the peer's first
			// message, the retransmitter will deliver ours later.
			log.WithFields(log.Fields{
				"peer":   src,
				"header": header,
			}).Debug("No receive connection, requesting first seqno")
			l.sendSendFirstSeqno(src)
			return nil, false
		}
		return existing.(*receiverEntry), true
	}

	l.recvMutex.Lock()
	defer l.recvMutex.Unlock()

	// Re-load under the lock, a concurrent first may have raced us.
	if current, stillExists := l.recvTable.Load(src); stillExists {
		entry := current.(*receiverEntry)
		if entry.connID == header.ConnID {
			// A retransmitted first; the entry stands.
			return entry, true
		}

		// Peer restart: the old incarnation's state is void.
		log.WithFields(log.Fields{
			"peer":        src,
			"old_conn_id": entry.connID,
			"new_conn_id": header.ConnID,
		}).Debug("Peer restarted, replacing receive connection")

		entry.win.Reset()
		l.recvTable.Delete(src)
	}

	entry := &receiverEntry{
		win:    newRecvWindow(header.Seqno),
		connID: header.ConnID,
	}
	l.recvTable.Store(src, entry)

	log.WithFields(log.Fields{
		"peer":        src,
		"conn_id":     header.ConnID,
		"first_seqno": header.Seqno,
	}).Debug("Created receive connection")

	return entry, true
}

// handleData implements the receive path for data messages: window
// insertion, duplicate acknowledgement, the out-of-band fast path and the
// in-order drain.
func (l *Layer) handleData(ctx context.Context, src stack.Addr, header *Header, msg *stack.Message) {
	entry, valid := l.receiverFor(src, header)
	if !valid {
		return
	}
	win := entry.win

	result := win.Add(header.Seqno, msg)

	l.stats.MsgsReceived.Add(1)
	l.stats.BytesReceived.Add(int64(msg.Len()))

	if result == AddNew && !msg.IsOOB() {
		l.undelivered.Add(1)
	}

	// A seqno below the delivery cursor means our acknowledgement was
	// lost; a plain "don't re-ack" policy would deadlock the peer's
	// retransmitter.
	if result == AddDuplicateDelivered {
		l.sendAck(src, header.Seqno)
		return
	}

	ctx, slot := withAckSlot(ctx)

	if msg.IsOOB() && result == AddNew {
		if l.oobFastPath(ctx, slot, src, win, msg) {
			return
		}
	}

	l.drain(ctx, slot, src, win)
}

// oobFastPath delivers a fresh out-of-band message immediately, bypassing
// FIFO. It reports whether the acknowledgement was enqueued for piggyback,
// in which case the in-order drain is skipped.
func (l *Layer) oobFastPath(ctx context.Context, slot *ackSlot, src stack.Addr, win *recvWindow, msg *stack.Message) bool {
	highest, marked := win.RemoveOOB()

	enqueued := false
	if marked && (l.undelivered.Load() == 0 || !win.HasMessagesToRemove()) {
		l.enqueueAck(slot, src, highest)
		enqueued = true
	}

	l.deliverUp(ctx, msg)

	if marked {
		if seqno, pending := slot.takeIf(src); pending {
			l.sendAck(src, seqno)
		}
	}

	return enqueued
}

// drain delivers the contiguous run of buffered messages upward, FIFO. The
// window's processing flag admits one drainer at a time; a second caller
// yields instead of queueing.
func (l *Layer) drain(ctx context.Context, slot *ackSlot, src stack.Addr, win *recvWindow) {
	if !win.processing.CompareAndSwap(false, true) {
		return
	}

	removed := int64(0)
	defer func() {
		l.undelivered.Add(-removed)
		win.processing.Store(false)
	}()

	for {
		msgs := win.RemoveMany()
		if len(msgs) == 0 {
			return
		}

		if highest, ok := highestSeqno(msgs); ok {
			l.enqueueAck(slot, src, highest)
		}

		for _, msg := range msgs {
			if msg.IsOOB() {
				// Already delivered on arrival, was only a gap filler here.
				continue
			}
			removed++
			l.deliverUp(ctx, msg)
		}

		// Nothing on the way up consumed the acknowledgement, so it
		// goes out explicitly.
		if seqno, pending := slot.takeIf(src); pending {
			l.sendAck(src, seqno)
		}
	}
}

func highestSeqno(msgs []*stack.Message) (uint64, bool) {
	header, exists := msgs[len(msgs)-1].Header(LayerName)
	if !exists {
		return 0, false
	}
	return header.(*Header).Seqno, true
}

// deliverUp hands a message to the layer above. A panicking upper layer is
// logged and the message counts as delivered; redelivering it would break
// FIFO for its successors.
func (l *Layer) deliverUp(ctx context.Context, msg *stack.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"msg":   msg,
				"panic": r,
			}).Error("Upper layer panicked during delivery")
		}
	}()

	l.PassUp(ctx, stack.MessageEvent{Msg: msg})
}

// enqueueAck parks an acknowledgement in the pending slot. A pair pending
// for a different peer is flushed explicitly right away.
func (l *Layer) enqueueAck(slot *ackSlot, addr stack.Addr, seqno uint64) {
	if evictedAddr, evictedSeqno, evicted := slot.enqueue(addr, seqno); evicted {
		l.sendAck(evictedAddr, evictedSeqno)
	}
}

// sendAck emits an explicit cumulative acknowledgement. While disconnected,
// acknowledgements are suppressed.
func (l *Layer) sendAck(dest stack.Addr, seqno uint64) {
	if l.disconnected.Load() {
		return
	}

	msg := stack.NewMessage(dest, nil)
	msg.PutHeader(LayerName, NewAckHeader(seqno))

	l.stats.AcksSent.Add(1)
	l.PassDown(context.Background(), stack.MessageEvent{Msg: msg})
}

// sendSendFirstSeqno asks a peer to resend its first pending message.
func (l *Layer) sendSendFirstSeqno(dest stack.Addr) {
	msg := stack.NewMessage(dest, nil)
	msg.PutHeader(LayerName, NewSendFirstSeqnoHeader())

	l.PassDown(context.Background(), stack.MessageEvent{Msg: msg})
}

// handleViewChange prunes the connections of every peer that left the
// cluster and relieves the age-out cache of current members.
func (l *Layer) handleViewChange(view *stack.View) {
	members := make(map[stack.Addr]struct{}, view.Size())
	for _, member := range view.Members() {
		members[member] = struct{}{}
	}

	l.membersMutex.Lock()
	l.members = members
	l.membersMutex.Unlock()

	if l.ageCache != nil {
		l.ageCache.RemoveAll(view)
	}

	nonMembers := make(map[stack.Addr]struct{})
	l.sendTable.Range(func(key, _ interface{}) bool {
		if addr := key.(stack.Addr); !view.Contains(addr) {
			nonMembers[addr] = struct{}{}
		}
		return true
	})
	l.recvTable.Range(func(key, _ interface{}) bool {
		if addr := key.(stack.Addr); !view.Contains(addr) {
			nonMembers[addr] = struct{}{}
		}
		return true
	})

	for addr := range nonMembers {
		log.WithField("peer", addr).Debug("Removing connection of former member")
		l.removeConnection(addr)
	}
}

// removeConnection tears down both directions of a peer's connection,
// cancelling all retransmission timers.
func (l *Layer) removeConnection(addr stack.Addr) {
	if entry, exists := l.sendTable.LoadAndDelete(addr); exists {
		entry.(*senderEntry).win.Reset()
	}

	l.recvMutex.Lock()
	if entry, exists := l.recvTable.LoadAndDelete(addr); exists {
		entry.(*receiverEntry).win.Reset()
	}
	l.recvMutex.Unlock()

	if l.ageCache != nil {
		l.ageCache.Remove(addr)
	}
}

// RemoveAllConnections tears down every connection in both tables.
func (l *Layer) RemoveAllConnections() {
	addrs := make(map[stack.Addr]struct{})
	l.sendTable.Range(func(key, _ interface{}) bool {
		addrs[key.(stack.Addr)] = struct{}{}
		return true
	})
	l.recvTable.Range(func(key, _ interface{}) bool {
		addrs[key.(stack.Addr)] = struct{}{}
		return true
	})

	for addr := range addrs {
		l.removeConnection(addr)
	}
}

// ResetStats zeroes the layer's counters.
func (l *Layer) ResetStats() {
	l.stats.Reset()
}

// UndeliveredMsgs returns the amount of received regular messages not yet
// delivered upward.
func (l *Layer) UndeliveredMsgs() int64 {
	return l.undelivered.Load()
}

// NumUnackedMsgs returns the total amount of unacknowledged sent messages.
func (l *Layer) NumUnackedMsgs() int64 {
	var n int64
	l.sendTable.Range(func(_, entry interface{}) bool {
		n += int64(entry.(*senderEntry).win.Len())
		return true
	})
	return n
}

// NumMsgsInRecvWindows returns the total amount of buffered received
// messages.
func (l *Layer) NumMsgsInRecvWindows() int64 {
	var n int64
	l.recvTable.Range(func(_, entry interface{}) bool {
		n += int64(entry.(*receiverEntry).win.Len())
		return true
	})
	return n
}

// Snapshot returns a point-in-time copy of all counters and gauges.
func (l *Layer) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		MsgsSent:          l.stats.MsgsSent.Load(),
		MsgsReceived:      l.stats.MsgsReceived.Load(),
		BytesSent:         l.stats.BytesSent.Load(),
		BytesReceived:     l.stats.BytesReceived.Load(),
		AcksSent:          l.stats.AcksSent.Load(),
		AcksReceived:      l.stats.AcksReceived.Load(),
		Xmits:             l.stats.Xmits.Load(),
		UndeliveredMsgs:   l.undelivered.Load(),
		UnackedMsgs:       l.NumUnackedMsgs(),
		MsgsInRecvWindows: l.NumMsgsInRecvWindows(),
	}
}

// PrintConnections returns a listing of both connection tables.
func (l *Layer) PrintConnections() string {
	var sb strings.Builder

	sb.WriteString("send connections:\n")
	l.sendTable.Range(func(key, value interface{}) bool {
		entry := value.(*senderEntry)
		entry.mutex.Lock()
		fmt.Fprintf(&sb, "  %v: conn_id=%d, next_seqno=%d, unacked=%d\n",
			key, entry.connID, entry.nextSeqno, entry.win.Len())
		entry.mutex.Unlock()
		return true
	})

	sb.WriteString("receive connections:\n")
	l.recvTable.Range(func(key, value interface{}) bool {
		entry := value.(*receiverEntry)
		fmt.Fprintf(&sb, "  %v: conn_id=%d, next_to_remove=%d, buffered=%d\n",
			key, entry.connID, entry.win.NextToRemove(), entry.win.Len())
		return true
	})

	return sb.String()
}

// PrintUnackedMessages returns a per-peer listing of the send windows.
func (l *Layer) PrintUnackedMessages() string {
	var sb strings.Builder
	l.sendTable.Range(func(key, value interface{}) bool {
		fmt.Fprintf(&sb, "%v:\n%s", key, value.(*senderEntry).win.Dump())
		return true
	})
	return sb.String()
}

// PrintAgeOutCache returns a listing of the age-out cache.
func (l *Layer) PrintAgeOutCache() string {
	if l.ageCache == nil {
		return "age-out cache is disabled\n"
	}
	return l.ageCache.Dump()
}
