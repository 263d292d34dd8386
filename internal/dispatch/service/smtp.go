package service

import (
	"context"
	"errors"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	domain "github.com/civimail/civimail/internal/dispatch/domain"
	"github.com/civimail/civimail/internal/metrics"
	"github.com/civimail/civimail/internal/vault"
)

const (
	maxTransientRetries = 2
	retryBackoffBase    = 2 * time.Second
	connectTimeout      = 30 * time.Second
)

// smtpSession is one authenticated connection; it exists so tests can
// exercise the retry and abort logic without a server.
type smtpSession interface {
	Send(m *mail.Msg) error
	Close() error
}

type dialFunc func(ctx context.Context, p vault.Profile) (smtpSession, error)

// SMTP submits rendered messages over one session per dispatch invocation.
type SMTP struct {
	log   zerolog.Logger
	dial  dialFunc
	sleep func(time.Duration)
}

func NewSMTP(log zerolog.Logger) *SMTP {
	return &SMTP{log: log, dial: dialClient, sleep: time.Sleep}
}

var _ domain.Submitter = (*SMTP)(nil)

// Submit opens one session, authenticates once and sends every submission
// over it. Transient failures are retried with exponential backoff within
// the invocation; a connect or auth failure aborts and marks the remaining
// recipients accordingly.
func (s *SMTP) Submit(ctx context.Context, profile vault.Profile, batch []domain.Submission) []domain.RecipientOutcome {
	outcomes := make([]domain.RecipientOutcome, len(batch))

	sess, err := s.dial(ctx, profile)
	if err != nil {
		kind := domain.OutcomeConnect
		if isAuthErr(err) {
			kind = domain.OutcomeAuth
		}
		for i, sub := range batch {
			outcomes[i] = domain.RecipientOutcome{Email: sub.Recipient.Email, Kind: kind, Detail: err.Error()}
			metrics.IncRecipientOutcome(string(kind))
		}
		s.log.Warn().Err(err).Str("host", profile.Addr()).Msg("smtp session failed")
		return outcomes
	}
	defer sess.Close()

	for i, sub := range batch {
		outcomes[i] = s.sendOne(ctx, sess, profile, sub)
		metrics.IncRecipientOutcome(string(outcomes[i].Kind))

		// A dead session fails everything still queued.
		if outcomes[i].Kind == domain.OutcomeConnect || outcomes[i].Kind == domain.OutcomeAuth {
			for j := i + 1; j < len(batch); j++ {
				outcomes[j] = domain.RecipientOutcome{
					Email:  batch[j].Recipient.Email,
					Kind:   domain.OutcomeConnect,
					Detail: "dispatch aborted: " + outcomes[i].Detail,
				}
				metrics.IncRecipientOutcome(string(domain.OutcomeConnect))
			}
			break
		}
	}
	return outcomes
}

func (s *SMTP) sendOne(ctx context.Context, sess smtpSession, profile vault.Profile, sub domain.Submission) domain.RecipientOutcome {
	out := domain.RecipientOutcome{Email: sub.Recipient.Email}

	msg, err := buildMessage(profile, sub)
	if err != nil {
		out.Kind = domain.OutcomeRejected
		out.Detail = err.Error()
		return out
	}

	for attempt := 0; ; attempt++ {
		err := sess.Send(msg)
		if err == nil {
			out.Kind = domain.OutcomeDelivered
			out.Retries = attempt
			return out
		}

		kind, code := classify(err)
		out.Kind = kind
		out.Code = code
		out.Detail = err.Error()
		out.Retries = attempt

		if kind != domain.OutcomeTransient || attempt >= maxTransientRetries || ctx.Err() != nil {
			return out
		}
		s.sleep(retryBackoffBase << attempt)
	}
}

func buildMessage(profile vault.Profile, sub domain.Submission) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(profile.From); err != nil {
		return nil, err
	}
	if err := m.To(sub.Recipient.Email); err != nil {
		return nil, err
	}
	m.Subject(sub.Subject)
	m.SetBodyString(mail.TypeTextPlain, sub.Text)
	m.AddAlternativeString(mail.TypeTextHTML, sub.HTML)
	for _, a := range sub.Attachments {
		// Content type is inferred from the extension by go-mail; the
		// original filename is preserved for the receiver.
		m.AttachFile(a.Path, mail.WithFileName(a.Filename))
	}
	return m, nil
}

func dialClient(ctx context.Context, p vault.Profile) (smtpSession, error) {
	opts := []mail.Option{
		mail.WithPort(p.Port),
		mail.WithTimeout(connectTimeout),
	}
	if p.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(p.Username),
			mail.WithPassword(p.Password),
		)
	}
	switch {
	case p.SSL:
		opts = append(opts, mail.WithSSL())
	case p.StartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case p.AllowPlaintext:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(p.Host, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.DialWithContext(ctx); err != nil {
		return nil, err
	}
	return &clientSession{client: client}, nil
}

type clientSession struct {
	client *mail.Client
}

func (s *clientSession) Send(m *mail.Msg) error { return s.client.Send(m) }
func (s *clientSession) Close() error           { return s.client.Close() }

// classify maps a submission error onto a recipient outcome. SMTP reply
// codes in the 400s are transient, 500s permanent; anything without a
// recognizable code counts as transient so it gets the retry budget.
func classify(err error) (domain.OutcomeKind, int) {
	code := smtpCode(err)
	switch {
	case code >= 500:
		if isAuthCode(code) {
			return domain.OutcomeAuth, code
		}
		return domain.OutcomeRejected, code
	case code >= 400:
		return domain.OutcomeTransient, code
	}
	if isAuthErr(err) {
		return domain.OutcomeAuth, code
	}
	var netErr *textproto.Error
	if errors.As(err, &netErr) {
		return domain.OutcomeTransient, netErr.Code
	}
	return domain.OutcomeTransient, 0
}

func smtpCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	// Fall back to the leading reply code in the message text.
	for _, tok := range strings.Fields(err.Error()) {
		if len(tok) == 3 {
			if n, convErr := strconv.Atoi(tok); convErr == nil && n >= 200 && n < 600 {
				return n
			}
		}
	}
	return 0
}

func isAuthCode(code int) bool {
	switch code {
	case 530, 534, 535, 538:
		return true
	}
	return false
}

func isAuthErr(err error) bool {
	if err == nil {
		return false
	}
	if isAuthCode(smtpCode(err)) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "auth")
}
