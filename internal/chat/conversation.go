package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"skill-barter/messaging/internal/history"
	"skill-barter/messaging/internal/models"
	"skill-barter/messaging/internal/realtime"
	"skill-barter/messaging/pkg/auth"
	"skill-barter/messaging/pkg/config"
	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/metrics"
)

// ErrClosed is returned by calls on a closed conversation.
var ErrClosed = errors.New("conversation closed")

// Channel is the realtime connection as seen by a conversation.
type Channel interface {
	Sender
	Events() <-chan realtime.Event
	Close() error
}

// ChannelOpener opens a channel authenticated with cred.
type ChannelOpener func(ctx context.Context, cred auth.Credential) Channel

// RealtimeOpener opens websocket channels with cfg.
func RealtimeOpener(cfg realtime.Config, opts ...realtime.Option) ChannelOpener {
	return func(ctx context.Context, cred auth.Credential) Channel {
		return realtime.Open(ctx, cfg, cred, opts...)
	}
}

// Deps are the collaborators of a conversation.
type Deps struct {
	Credential auth.Credential
	History    history.Client
	Open       ChannelOpener
	// Config supplies the send throttle; nil disables it.
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Update is published whenever the visible state changes.
type Update struct {
	Messages []models.Message
	Target   Target
	// Notice is a non-fatal condition to show the user, if any.
	Notice *apperrors.AppError
}

// Conversation is one open chat view. A single goroutine owns the message
// list, the resolved target and the channel; every input is handed to it
// and processed to completion in arrival order.
type Conversation struct {
	scope models.Scope
	deps  Deps
	log   *logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan func()
	updates   chan Update
	done      chan struct{}
	expiry    *time.Timer
	closeOnce sync.Once

	snapMu sync.RWMutex
	snap   Update

	// loop state
	rec        *Reconciler
	pipeline   *Pipeline
	resolver   *Resolver
	ch         Channel
	events     <-chan realtime.Event
	selfID     int64
	selfKnown  bool
	target     Target
	seeded     bool
	historyGen int
	buffered   []realtime.Event
	resolving  bool
	exhausted  *apperrors.AppError
	expired    bool
}

// Open starts a conversation for scope. The current user, the history
// and the channel are acquired concurrently; progress is reported on
// Updates. The caller must Close the conversation.
func Open(ctx context.Context, deps Deps, scope models.Scope) (*Conversation, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("open conversation: invalid scope %+v", scope)
	}
	if deps.History == nil || deps.Open == nil {
		return nil, fmt.Errorf("open conversation: history client and channel opener are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Conversation{
		scope:   scope,
		deps:    deps,
		log:     deps.Logger.WithConversation(scope.String()),
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan func()),
		updates: make(chan Update, 16),
		done:    make(chan struct{}),
	}

	c.rec = NewReconciler(scope)
	c.rec.now = deps.Clock
	opts := []PipelineOption{WithPipelineLogger(c.log), WithPipelineMetrics(deps.Metrics)}
	if deps.Config != nil {
		opts = append(opts, WithRateLimit(deps.Config.Send.RatePerSecond, deps.Config.Send.Burst))
	}
	c.pipeline = NewPipeline(c.rec, nil, opts...)
	c.resolver = NewResolver(deps.History, c.log)

	// a token naming its subject settles the sender before the lookup returns
	if id, ok := deps.Credential.Subject(); ok {
		c.setSelf(id)
	}

	c.openChannel()
	c.fetchSelf()
	c.fetchHistory()
	c.armExpiry()
	c.publish(nil)

	go c.run()
	c.log.Info("conversation opened")
	return c, nil
}

// Scope returns the conversation scoping key.
func (c *Conversation) Scope() models.Scope {
	return c.scope
}

// Updates streams state snapshots. When the consumer falls behind, older
// snapshots are dropped. The stream is closed by Close.
func (c *Conversation) Updates() <-chan Update {
	return c.updates
}

// Messages returns the latest published message list.
func (c *Conversation) Messages() []models.Message {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return slices.Clone(c.snap.Messages)
}

// Target returns the latest published send target.
func (c *Conversation) Target() Target {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap.Target
}

// Send submits text through the send pipeline.
func (c *Conversation) Send(ctx context.Context, text string) (models.Message, error) {
	return c.call(ctx, func() (models.Message, error) {
		if c.exhausted != nil && models.NormalizeBody(text) != "" {
			return models.Message{}, c.exhausted
		}
		msg, err := c.pipeline.Submit(text, c.target)
		if msg.LocalID != "" {
			c.publish(apperrors.FromError(err))
		}
		return msg, err
	})
}

// Retry resubmits an unconfirmed message.
func (c *Conversation) Retry(ctx context.Context, localID string) (models.Message, error) {
	return c.call(ctx, func() (models.Message, error) {
		if c.exhausted != nil {
			return models.Message{}, c.exhausted
		}
		msg, err := c.pipeline.Retry(localID, c.target)
		if msg.LocalID != "" {
			c.publish(apperrors.FromError(err))
		}
		return msg, err
	})
}

// Reconnect replaces the channel and reloads the history.
func (c *Conversation) Reconnect(ctx context.Context) error {
	_, err := c.call(ctx, func() (models.Message, error) {
		if c.expired {
			return models.Message{}, apperrors.ChannelDisconnected(auth.ErrExpiredToken)
		}
		c.log.Info("reconnecting")
		c.closeChannel()
		c.openChannel()
		c.seeded = false
		c.fetchHistory()
		return models.Message{}, nil
	})
	return err
}

// Close cancels in-flight fetches, closes the channel and stops the loop.
// It is safe to call more than once.
func (c *Conversation) Close() error {
	c.closeOnce.Do(func() {
		if c.expiry != nil {
			c.expiry.Stop()
		}
		c.cancel()
		<-c.done
		c.log.Info("conversation closed")
	})
	return nil
}

func (c *Conversation) run() {
	defer close(c.done)
	defer close(c.updates)
	defer c.closeChannel()

	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.inbox:
			fn()
		case ev, ok := <-c.events:
			if !ok {
				c.events = nil
				continue
			}
			c.onEvent(ev)
		}
	}
}

// call runs fn on the loop and waits for its result.
func (c *Conversation) call(ctx context.Context, fn func() (models.Message, error)) (models.Message, error) {
	type result struct {
		msg models.Message
		err error
	}
	reply := make(chan result, 1)

	select {
	case c.inbox <- func() {
		msg, err := fn()
		reply <- result{msg, err}
	}:
	case <-c.done:
		return models.Message{}, ErrClosed
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.msg, r.err
	case <-c.done:
		return models.Message{}, ErrClosed
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// post hands a result to the loop; it is dropped once the conversation
// is closing.
func (c *Conversation) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Conversation) fetchSelf() {
	go func() {
		var id int64
		me, err := c.deps.History.FetchCurrentUser(c.ctx)
		switch {
		case err == nil && me != nil && me.ID != 0:
			id = me.ID
		default:
			if err != nil {
				c.log.Warn("current user lookup failed, using credential subject", "error", err)
			}
			id, _ = c.deps.Credential.Subject()
		}
		c.post(func() { c.onSelf(id) })
	}()
}

func (c *Conversation) fetchHistory() {
	c.historyGen++
	gen := c.historyGen
	go func() {
		msgs, err := c.deps.History.FetchConversation(c.ctx, c.scope)
		c.post(func() { c.onHistory(gen, msgs, err) })
	}()
}

func (c *Conversation) armExpiry() {
	exp, ok := c.deps.Credential.ExpiresAt()
	if !ok {
		return
	}
	d := exp.Sub(c.deps.Clock())
	if d < 0 {
		d = 0
	}
	c.expiry = time.AfterFunc(d, func() { c.post(c.onExpired) })
}

func (c *Conversation) onSelf(id int64) {
	if id == 0 && c.selfID != 0 {
		id = c.selfID
	}
	changed := c.setSelf(id)
	if id == 0 {
		c.log.Warn("current user unknown")
	} else {
		c.log.Debug("current user known", "user_id", id)
	}
	if changed {
		c.publish(nil)
	}
	c.maybeResolve()
}

// setSelf records the current user. A direct conversation can send only
// once the sender is known. It reports whether the target changed.
func (c *Conversation) setSelf(id int64) bool {
	c.selfID = id
	c.selfKnown = true
	c.pipeline.SetSender(id)
	if c.scope.IsRequest() || id == 0 || c.target.Ready() {
		return false
	}
	c.target = Target{ReceiverID: c.scope.PartnerID}
	return true
}

func (c *Conversation) onHistory(gen int, msgs []models.Message, err error) {
	if gen != c.historyGen {
		return
	}
	if err != nil {
		c.log.Warn("history fetch failed, starting empty", "error", err)
		msgs = nil
	}

	c.rec.Seed(msgs)
	c.seeded = true
	for _, ev := range c.buffered {
		c.apply(ev)
	}
	c.buffered = nil

	c.maybeResolve()
	c.publish(nil)
}

func (c *Conversation) onEvent(ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindMessageDelivered, realtime.KindMessageConfirmed:
		if !c.seeded {
			c.buffered = append(c.buffered, ev)
			return
		}
		if c.apply(ev) {
			c.publish(nil)
		}

	case realtime.KindSendFailed:
		if _, ok := c.rec.MarkFailed(ev.Reason, ev.ClientID); !ok {
			c.log.Warn("send failure matched no message", "reason", ev.Reason)
		}
		c.publish(apperrors.SendRejected(ev.Reason))

	case realtime.KindRegistered:
		c.log.Debug("channel registered", "user_id", ev.UserID)

	case realtime.KindRegisterFailed:
		c.publish(apperrors.ChannelDisconnected(fmt.Errorf("registration rejected: %s", ev.Reason)))

	case realtime.KindDisconnected:
		c.publish(apperrors.FromError(ev.Err))
	}
}

func (c *Conversation) apply(ev realtime.Event) bool {
	if ev.Kind == realtime.KindMessageConfirmed {
		return c.rec.ReconcileConfirmed(ev.Message)
	}
	return c.rec.AppendIncoming(ev.Message)
}

func (c *Conversation) maybeResolve() {
	if !c.scope.IsRequest() || c.target.Ready() || c.resolving || c.exhausted != nil {
		return
	}
	if !c.seeded || !c.selfKnown {
		return
	}

	c.resolving = true
	requestID, selfID := c.scope.RequestID, c.selfID
	known := c.rec.Messages()
	go func() {
		id, err := c.resolver.ResolveFrom(c.ctx, requestID, selfID, known)
		c.post(func() { c.onResolved(id, err) })
	}()
}

func (c *Conversation) onResolved(id int64, err error) {
	c.resolving = false
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.exhausted = apperrors.FromError(err)
		c.log.Warn("receiver not resolved", "error", err)
		c.publish(c.exhausted)
		return
	}

	c.target = Target{ReceiverID: id, RequestID: models.Int64Ptr(c.scope.RequestID)}
	c.log.Info("receiver resolved", "receiver_id", id)
	c.publish(nil)
}

func (c *Conversation) onExpired() {
	c.expired = true
	c.log.Warn("credential expired, closing channel")
	c.closeChannel()
	c.publish(apperrors.ChannelDisconnected(auth.ErrExpiredToken))
}

func (c *Conversation) openChannel() {
	c.ch = c.deps.Open(c.ctx, c.deps.Credential)
	c.events = c.ch.Events()
	c.pipeline.SetChannel(c.ch)
}

func (c *Conversation) closeChannel() {
	if c.ch == nil {
		return
	}
	if err := c.ch.Close(); err != nil {
		c.log.LogError(err, "failed to close channel")
	}
	c.ch = nil
	c.events = nil
	c.pipeline.SetChannel(nil)
}

// publish stores a snapshot and offers it to the Updates stream,
// dropping the oldest pending update when the stream is full.
func (c *Conversation) publish(notice *apperrors.AppError) {
	u := Update{Messages: c.rec.Messages(), Target: c.target, Notice: notice}

	c.snapMu.Lock()
	c.snap = u
	c.snapMu.Unlock()

	for {
		select {
		case c.updates <- u:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}
