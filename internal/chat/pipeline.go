package chat

import (
	"skill-barter/messaging/internal/models"
	apperrors "skill-barter/messaging/pkg/errors"
	"skill-barter/messaging/pkg/logger"
	"skill-barter/messaging/pkg/metrics"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Target is who a conversation sends to.
type Target struct {
	ReceiverID int64
	RequestID  *int64
}

// Ready reports whether a receiver is known.
func (t Target) Ready() bool {
	return t.ReceiverID != 0
}

// Sender is the part of the realtime channel the pipeline needs.
type Sender interface {
	Send(msg models.OutgoingMessage) error
}

// Pipeline validates outgoing text, appends the optimistic entry and
// hands the message to the channel.
type Pipeline struct {
	rec     *Reconciler
	ch      Sender
	selfID  int64
	limiter *rate.Limiter
	log     *logger.Logger
	metrics *metrics.Metrics
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithRateLimit throttles submissions to perSecond with the given burst.
// A non-positive rate disables the throttle.
func WithRateLimit(perSecond float64, burst int) PipelineOption {
	return func(p *Pipeline) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// WithPipelineMetrics sets the metrics sink.
func WithPipelineMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline writing into rec and sending on ch.
func NewPipeline(rec *Reconciler, ch Sender, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{rec: rec, ch: ch, log: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetSender records the local user id stamped on optimistic entries.
func (p *Pipeline) SetSender(id int64) {
	p.selfID = id
}

// SetChannel swaps the channel, e.g. after a reconnect. Nil means offline.
func (p *Pipeline) SetChannel(ch Sender) {
	p.ch = ch
}

// Submit sends rawText to target. A returned message with a LocalID was
// appended locally; an error alongside it means the channel refused the
// frame and the entry is already flagged failed.
func (p *Pipeline) Submit(rawText string, target Target) (models.Message, error) {
	body := models.NormalizeBody(rawText)
	if err := p.validate(body, target); err != nil {
		return models.Message{}, err
	}
	return p.dispatch(body, target)
}

// Retry discards the unconfirmed entry localID and submits its text again.
func (p *Pipeline) Retry(localID string, target Target) (models.Message, error) {
	old, ok := p.rec.Find(localID)
	if !ok {
		return models.Message{}, apperrors.NotFound(apperrors.CodeSendRejected, "no unconfirmed message "+localID)
	}
	body := models.NormalizeBody(old.Body)
	if err := p.validate(body, target); err != nil {
		return models.Message{}, err
	}
	p.rec.Discard(localID)
	return p.dispatch(body, target)
}

func (p *Pipeline) validate(body string, target Target) error {
	var err *apperrors.AppError
	switch {
	case body == "":
		err = apperrors.EmptyMessage()
	case !target.Ready():
		err = apperrors.NoReceiver()
	case p.limiter != nil && !p.limiter.Allow():
		err = apperrors.RateLimited()
	default:
		return nil
	}
	p.metrics.Rejected(err.Code)
	return err
}

func (p *Pipeline) dispatch(body string, target Target) (models.Message, error) {
	out := models.OutgoingMessage{
		ReceiverID: target.ReceiverID,
		RequestID:  target.RequestID,
		Body:       body,
		ClientID:   uuid.NewString(),
	}

	msg := p.rec.AppendOptimistic(models.Message{
		SenderID:        p.selfID,
		ReceiverID:      out.ReceiverID,
		RequestID:       out.RequestID,
		Body:            body,
		ClientID:        out.ClientID,
		ConversationKey: models.ConversationKey(p.selfID, out.ReceiverID),
	})
	p.metrics.Submitted()

	var err error
	if p.ch == nil {
		err = apperrors.ChannelDisconnected(nil)
	} else {
		err = p.ch.Send(out)
	}
	if err != nil {
		p.log.Warn("send not accepted by channel", "client_id", out.ClientID, "error", err)
		if failed, ok := p.rec.MarkFailed(apperrors.GetErrorMessage(err), out.ClientID); ok {
			msg = failed
		}
		return msg, err
	}
	return msg, nil
}
