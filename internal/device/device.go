// Package device composes the queue, sync coordinator, mode policy,
// deduplicator and directory into the cooperative tap-capture machine.
package device

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"git.home.luguber.info/inful/taptrack/internal/config"
	"git.home.luguber.info/inful/taptrack/internal/dedup"
	"git.home.luguber.info/inful/taptrack/internal/directory"
	"git.home.luguber.info/inful/taptrack/internal/errors"
	"git.home.luguber.info/inful/taptrack/internal/journal"
	"git.home.luguber.info/inful/taptrack/internal/logfields"
	"git.home.luguber.info/inful/taptrack/internal/metrics"
	"git.home.luguber.info/inful/taptrack/internal/mode"
	"git.home.luguber.info/inful/taptrack/internal/queue"
	"git.home.luguber.info/inful/taptrack/internal/record"
	"git.home.luguber.info/inful/taptrack/internal/retry"
	"git.home.luguber.info/inful/taptrack/internal/syncer"
)

// Signal is a timer tick posted into the device loop. Timer subsystems never
// call into the machine directly; they post signals that the loop drains.
type Signal int

const (
	SignalSyncTick Signal = iota
	SignalConnectivityTick
)

// awaitingSync is the transient per-push context held while a confirmation
// is outstanding. committed guards the at-most-once enqueue of a tap-origin
// record whose push never resolved.
type awaitingSync struct {
	syncID    string
	fromQueue bool
	candidate record.AttendanceRecord
	since     time.Time
	committed bool
}

// Options wires the device's owned components and external collaborators.
type Options struct {
	Config      *config.Config
	Queue       *queue.DurableQueue
	Coordinator *syncer.Coordinator
	Policy      *mode.Policy
	Directory   *directory.Directory
	Journal     *journal.Journal
	Cards       CardEventSource
	Clock       ClockSource
	Conn        Connectivity
	Feedback    FeedbackSink
	Recorder    metrics.Recorder
}

// Device is the single-threaded orchestrator. Run is the only writer of the
// machine state; the mutex exists because the admin surface reads (and sets
// the mode) concurrently.
type Device struct {
	mu      sync.RWMutex
	queue   *queue.DurableQueue
	coord   *syncer.Coordinator
	policy  *mode.Policy
	dedup   *dedup.Deduplicator
	dir     *directory.Directory
	journal *journal.Journal
	rec     metrics.Recorder

	cards    CardEventSource
	clock    ClockSource
	conn     Connectivity
	feedback FeedbackSink

	retry   retry.Policy
	now     func() time.Time
	started time.Time

	stateTimeout time.Duration
	onTimeHour   int
	minYear      int
	maxYear      int

	state        State
	stateEntered time.Time
	online       bool
	aw           *awaitingSync
	nextDrainAt  time.Time

	signals chan Signal
}

// New assembles a device from its parts. Nil Feedback and Recorder degrade
// to no-ops; a nil Journal disables the event log.
func New(opts Options) *Device {
	cfg := opts.Config
	if opts.Feedback == nil {
		opts.Feedback = NopFeedback{}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}

	d := &Device{
		queue:    opts.Queue,
		coord:    opts.Coordinator,
		policy:   opts.Policy,
		dedup:    dedup.New(cfg.Device.TapCooldown),
		dir:      opts.Directory,
		journal:  opts.Journal,
		rec:      opts.Recorder,
		cards:    opts.Cards,
		clock:    opts.Clock,
		conn:     opts.Conn,
		feedback: opts.Feedback,
		retry:    retry.FromConfig(cfg.Sync),
		now:      time.Now,

		stateTimeout: cfg.Device.StateTimeout,
		onTimeHour:   cfg.Device.OnTimeHour,
		minYear:      cfg.Device.MinYear,
		maxYear:      cfg.Device.MaxYear,

		state:   StateInitialize,
		signals: make(chan Signal, 8),
	}
	d.started = d.now()
	d.stateEntered = d.started
	return d
}

// Post delivers a timer signal without ever blocking the timer goroutine.
// A full channel means the loop is behind; the next tick will catch up.
func (d *Device) Post(sig Signal) {
	select {
	case d.signals <- sig:
	default:
	}
}

// Run drives the machine until ctx is cancelled. One logical control loop:
// service an input, advance one step, yield.
func (d *Device) Run(ctx context.Context) error {
	d.initialize(ctx)

	heartbeat := time.NewTicker(250 * time.Millisecond)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Device loop stopping")
			return ctx.Err()
		case tap, ok := <-d.cards.Taps():
			if !ok {
				return errors.New(errors.CategoryDevice, errors.SeverityFatal, "card event source closed")
			}
			d.HandleTap(ctx, tap)
		case sig := <-d.signals:
			d.handleSignal(ctx, sig)
		case <-heartbeat.C:
		}
		d.Step(ctx)
	}
}

func (d *Device) initialize(ctx context.Context) {
	online := d.conn.CheckConnectivity(ctx)

	d.mu.Lock()
	d.online = online
	d.mu.Unlock()

	d.rec.SetOnline(online)
	d.rec.SetMode(string(d.policy.Current()))
	d.rec.SetQueueDepth(d.queue.Size())

	slog.Info("Device initialized",
		logfields.Mode(string(d.policy.Current())),
		logfields.QueueSize(d.queue.Size()),
		slog.Bool("online", online),
		slog.Int("users", d.dir.Count()))

	d.transition(ctx, StateIdle)
}

// Step advances the machine one iteration: drain confirmations, resolve any
// outstanding push, and let the watchdog inspect elapsed time. Safe to call
// directly in tests; Run calls it after every serviced input.
func (d *Device) Step(ctx context.Context) {
	d.coord.Poll()
	d.resolvePending(ctx)
	d.watchdog(ctx)
}

func (d *Device) handleSignal(ctx context.Context, sig Signal) {
	switch sig {
	case SignalSyncTick:
		d.drainQueueHead(ctx)
	case SignalConnectivityTick:
		d.checkConnectivity(ctx)
	}
}

// HandleTap runs one tap through PROCESS_CARD. Every exit path is a distinct
// terminal outcome with its own feedback signal.
func (d *Device) HandleTap(ctx context.Context, tap TapEvent) {
	d.mu.RLock()
	busy := d.aw != nil || d.state != StateIdle
	minYear, maxYear, onTimeHour := d.minYear, d.maxYear, d.onTimeHour
	d.mu.RUnlock()
	if busy {
		d.feedback.Notify(OutcomeBusy)
		return
	}

	d.transition(ctx, StateProcessCard)
	defer d.transition(ctx, StateIdle)

	if tap.Err != nil {
		slog.Warn("Card read failed", logfields.Error(tap.Err))
		d.tapOutcome(ctx, OutcomeReadError, journal.EventTapSuppressed, tap.UID)
		return
	}

	reading, err := d.clock.Read()
	if err == nil {
		err = reading.Validate(minYear, maxYear)
	}
	if err != nil {
		// Never record a tap against an implausible timestamp.
		slog.Error("Clock rejected", logfields.UID(tap.UID), logfields.Error(err))
		d.tapOutcome(ctx, OutcomeInvalidClock, journal.EventClockRejected, tap.UID)
		return
	}

	now := d.now()
	if d.dedup.IsDuplicate(tap.UID, now) {
		slog.Debug("Duplicate tap suppressed", logfields.UID(tap.UID))
		d.tapOutcome(ctx, OutcomeDuplicate, journal.EventTapSuppressed, tap.UID)
		return
	}

	registered, name := d.dir.Lookup(tap.UID)
	if !registered {
		d.handleUnregistered(ctx, tap.UID, reading)
		return
	}

	rec := record.AttendanceRecord{
		UID:                tap.UID,
		Name:               name,
		Timestamp:          reading.String(),
		AttendanceStatus:   record.Classify(reading.Hour, onTimeHour),
		RegistrationStatus: record.Registered,
		QueuedAt:           d.uptimeMillis(),
	}
	d.dedup.Accept(tap.UID, now)
	d.journalEvent(ctx, journal.EventTapAccepted, map[string]string{
		"uid": tap.UID, "status": string(rec.AttendanceStatus),
	})
	d.rec.IncTapOutcome("accepted")

	if !d.sendPermitted(ctx) {
		d.transition(ctx, StateQueueData)
		d.enqueueCandidate(ctx, rec, OutcomeSuccessOffline)
		return
	}

	d.transition(ctx, StateUploadData)
	syncID, ok := d.coord.SendRecord(ctx, &rec)
	if !ok {
		// Remote not ready is a state-machine outcome, not an error.
		d.transition(ctx, StateQueueData)
		d.enqueueCandidate(ctx, rec, OutcomeQueued)
		return
	}

	d.dedup.MarkInFlight(tap.UID)
	d.setAwaiting(&awaitingSync{syncID: syncID, candidate: rec, since: d.now()})
	d.feedback.Notify(OutcomeSyncing)
}

func (d *Device) handleUnregistered(ctx context.Context, uid string, reading record.ClockReading) {
	d.rec.IncTapOutcome("unregistered")
	d.journalEvent(ctx, journal.EventTapUnknown, map[string]string{"uid": uid})

	if d.isOnline() && d.policy.AllowsSend(true) {
		// Forwarded for registration, never to the attendance queue.
		if err := d.coord.SendPendingUser(ctx, uid, reading.String()); err != nil {
			slog.Warn("Pending user forward failed", logfields.UID(uid), logfields.Error(err))
		}
	} else {
		slog.Info("Unregistered tap while offline, not recorded", logfields.UID(uid))
	}
	d.feedback.Notify(OutcomeUnregistered)
}

// enqueueCandidate commits a tap-origin record to the durable queue.
// QueueFull discards the new record; queued data is never evicted.
func (d *Device) enqueueCandidate(ctx context.Context, rec record.AttendanceRecord, outcome Outcome) {
	if err := d.queue.Enqueue(rec); err != nil {
		if errors.IsCategory(err, errors.CategoryQueue) {
			slog.Warn("Queue full, tap discarded", logfields.UID(rec.UID))
			d.rec.IncTapOutcome("queue_full")
			d.feedback.Notify(OutcomeQueueFull)
			return
		}
		slog.Error("Enqueue failed", logfields.UID(rec.UID), logfields.Error(err))
		d.feedback.Notify(OutcomeQueueFull)
		return
	}
	d.rec.SetQueueDepth(d.queue.Size())
	d.rec.IncTapOutcome("queued")
	d.journalEvent(ctx, journal.EventQueued, map[string]string{
		"uid": rec.UID, "queue_size": itoa(d.queue.Size()),
	})
	d.feedback.Notify(outcome)
}

// drainQueueHead services the periodic sync tick: prepare the queue head and
// retry it through the single in-flight slot. The head is prepared before the
// push so the payload carries the same retry count as the persisted record.
func (d *Device) drainQueueHead(ctx context.Context) {
	d.mu.RLock()
	blocked := d.aw != nil || d.state != StateIdle
	wait := d.nextDrainAt
	pol := d.retry
	d.mu.RUnlock()
	if blocked || d.queue.IsEmpty() || d.now().Before(wait) {
		return
	}
	if !d.sendPermitted(ctx) {
		return
	}

	d.transition(ctx, StateSyncQueue)
	defer d.transition(ctx, StateIdle)

	prepared, ok := d.queue.PrepareHead()
	if !ok {
		return
	}
	d.rec.IncQueueRetry()
	if pol.Exceeded(prepared.RetryCount) {
		// Warned, never dropped: eventual delivery wins over bounded latency.
		slog.Warn("Record past retry threshold, still retrying",
			logfields.UID(prepared.UID),
			logfields.RetryCount(prepared.RetryCount))
	}

	rec := prepared
	syncID, ok := d.coord.SendRecord(ctx, &rec)
	if !ok {
		d.queue.MoveToBack()
		d.mu.Lock()
		d.nextDrainAt = d.now().Add(pol.Delay(prepared.RetryCount))
		d.mu.Unlock()
		d.journalEvent(ctx, journal.EventSyncFailed, map[string]string{
			"uid": prepared.UID, "retry_count": itoa(prepared.RetryCount),
		})
		return
	}

	d.queue.StampHeadSyncID(syncID)
	d.setAwaiting(&awaitingSync{syncID: syncID, fromQueue: true, candidate: rec, since: d.now()})
	slog.Info("Queue head push in flight",
		logfields.UID(rec.UID),
		logfields.SyncID(syncID),
		logfields.QueueSize(d.queue.Size()))
}

// resolvePending inspects the outstanding push after confirmations have been
// drained and settles it one way or the other.
func (d *Device) resolvePending(ctx context.Context) {
	d.mu.RLock()
	aw := d.aw
	d.mu.RUnlock()
	if aw == nil {
		return
	}

	if d.coord.IsConfirmed(aw.syncID) {
		d.settleConfirmed(ctx, aw)
		return
	}
	if !d.coord.InFlight() {
		// Coordinator resolved it as a failure.
		d.settleFailed(ctx, aw)
	}
}

func (d *Device) settleConfirmed(ctx context.Context, aw *awaitingSync) {
	if aw.fromQueue {
		d.queue.DequeueBySyncID(aw.syncID)
		d.rec.SetQueueDepth(d.queue.Size())
		d.journalEvent(ctx, journal.EventQueueDrained, map[string]string{
			"sync_id": aw.syncID, "queue_size": itoa(d.queue.Size()),
		})
	} else {
		d.dedup.ClearInFlight()
	}
	d.journalEvent(ctx, journal.EventSyncConfirmed, map[string]string{
		"uid": aw.candidate.UID, "sync_id": aw.syncID,
	})
	d.setAwaiting(nil)
	d.resetDrainBackoff()
	d.feedback.Notify(OutcomeConfirmed)
}

func (d *Device) settleFailed(ctx context.Context, aw *awaitingSync) {
	if aw.fromQueue {
		// Head was prepared before the push; rotate it behind the rest.
		d.queue.MoveToBack()
		d.mu.Lock()
		d.nextDrainAt = d.now().Add(d.retry.Delay(aw.candidate.RetryCount))
		d.mu.Unlock()
	} else {
		d.dedup.ClearInFlight()
		d.commitInDoubt(ctx, aw)
	}
	d.journalEvent(ctx, journal.EventSyncFailed, map[string]string{
		"uid": aw.candidate.UID, "sync_id": aw.syncID,
	})
	d.setAwaiting(nil)
	if !aw.fromQueue {
		d.feedback.Notify(OutcomeQueued)
	}
}

// commitInDoubt enqueues a tap-origin record whose push did not confirm.
// The committed flag makes this at-most-once however many paths observe the
// same failed operation.
func (d *Device) commitInDoubt(ctx context.Context, aw *awaitingSync) {
	if aw.committed {
		return
	}
	aw.committed = true
	rec := aw.candidate
	rec.SyncID = ""
	if err := d.queue.Enqueue(rec); err != nil {
		slog.Error("Failed to commit in-doubt record", logfields.UID(rec.UID), logfields.Error(err))
		return
	}
	d.rec.SetQueueDepth(d.queue.Size())
	d.journalEvent(ctx, journal.EventQueued, map[string]string{
		"uid": rec.UID, "reason": "in_doubt",
	})
}

// watchdog forces recovery when a state or an outstanding confirmation
// overruns the timeout. Any in-doubt record is committed to the queue before
// the machine returns to idle.
func (d *Device) watchdog(ctx context.Context) {
	now := d.now()

	d.mu.RLock()
	aw := d.aw
	state := d.state
	entered := d.stateEntered
	timeout := d.stateTimeout
	d.mu.RUnlock()

	if aw != nil && now.Sub(aw.since) > timeout {
		slog.Warn("Watchdog: confirmation overdue",
			logfields.SyncID(aw.syncID),
			logfields.UID(aw.candidate.UID))
		d.coord.Abandon(aw.syncID)
		d.journalEvent(ctx, journal.EventWatchdogFired, map[string]string{
			"sync_id": aw.syncID, "uid": aw.candidate.UID,
		})
		d.settleFailed(ctx, aw)
		return
	}

	if !state.mayPersist() && now.Sub(entered) > timeout {
		slog.Error("Watchdog: state overrun", logfields.State(state.String()))
		d.journalEvent(ctx, journal.EventWatchdogFired, map[string]string{"state": state.String()})
		d.transition(ctx, StateIdle)
	}
}

func (d *Device) checkConnectivity(ctx context.Context) {
	online := d.conn.CheckConnectivity(ctx)
	if d.policy.WantsReconnect(online) {
		if err := d.conn.Reconnect(); err != nil {
			slog.Debug("Forced reconnect failed", logfields.Error(err))
		} else {
			online = d.conn.CheckConnectivity(ctx)
		}
	}
	d.setOnline(ctx, online)
}

// sendPermitted combines connectivity with the mode gate. Forced-online mode
// gets one reconnect attempt before conceding offline.
func (d *Device) sendPermitted(ctx context.Context) bool {
	online := d.isOnline()
	if d.policy.WantsReconnect(online) {
		if err := d.conn.Reconnect(); err == nil {
			online = d.conn.CheckConnectivity(ctx)
			d.setOnline(ctx, online)
		}
	}
	return d.policy.AllowsSend(online)
}

func (d *Device) transition(ctx context.Context, to State) {
	d.mu.Lock()
	from := d.state
	if from == to {
		d.mu.Unlock()
		return
	}
	d.state = to
	d.stateEntered = d.now()
	d.mu.Unlock()

	slog.Debug("State transition",
		slog.String("from", from.String()),
		logfields.State(to.String()))
}

func (d *Device) setOnline(ctx context.Context, online bool) {
	d.mu.Lock()
	changed := d.online != online
	d.online = online
	d.mu.Unlock()
	if !changed {
		return
	}
	d.rec.SetOnline(online)
	d.journalEvent(ctx, journal.EventOnlineChanged, map[string]string{"online": boolStr(online)})
	if online {
		slog.Info("Connectivity restored", logfields.QueueSize(d.queue.Size()))
	} else {
		slog.Warn("Connectivity lost, taps will queue")
	}
}

func (d *Device) isOnline() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.online
}

func (d *Device) setAwaiting(aw *awaitingSync) {
	d.mu.Lock()
	d.aw = aw
	d.mu.Unlock()
}

func (d *Device) resetDrainBackoff() {
	d.mu.Lock()
	d.nextDrainAt = time.Time{}
	d.mu.Unlock()
}

func (d *Device) uptimeMillis() int64 {
	return d.now().Sub(d.started).Milliseconds()
}

func (d *Device) tapOutcome(ctx context.Context, outcome Outcome, event string, uid string) {
	d.rec.IncTapOutcome(string(outcome))
	d.journalEvent(ctx, event, map[string]string{"uid": uid, "outcome": string(outcome)})
	d.feedback.Notify(outcome)
}

func (d *Device) journalEvent(ctx context.Context, eventType string, fields map[string]string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(ctx, eventType, fields); err != nil {
		slog.Debug("Journal append failed", logfields.Error(err))
	}
}

func itoa(n int) string { return strconv.Itoa(n) }

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
