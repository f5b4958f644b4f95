package vision

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/geo/r3"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/imhunterand/iDA-projectile/logging"
)

// Detection is the JSON payload published on the vision subject. T is optional.
type Detection struct {
	ID int      `json:"id"`
	T  *float64 `json:"t,omitempty"`
	X  float64  `json:"x"`
	Y  float64  `json:"y"`
	Z  float64  `json:"z"`
}

// Measurement converts d, stamping it with now when it carries no timestamp.
func (d Detection) Measurement(now float64) Measurement {
	m := Measurement{ID: d.ID, T: now, P: r3.Vector{X: d.X, Y: d.Y, Z: d.Z}}
	if d.T != nil {
		m.T = *d.T
	}
	return m
}

// NATSSource subscribes to a subject carrying Detection messages. The client reconnects on its
// own; the source only logs connection changes.
type NATSSource struct {
	url     string
	subject string
	now     Clock
	restamp bool
	logger  logging.Logger
	warn    rate.Sometimes
}

// NewNATSSource returns a source reading subject on the server at url.
func NewNATSSource(url, subject string, now Clock, restamp bool, logger logging.Logger) *NATSSource {
	return &NATSSource{
		url:     url,
		subject: subject,
		now:     now,
		restamp: restamp,
		logger:  logger,
		warn:    rate.Sometimes{First: 1, Interval: warnInterval},
	}
}

// Run implements Source.
func (s *NATSSource) Run(ctx context.Context, emit func(Measurement)) error {
	nc, err := nats.Connect(s.url,
		nats.Name("interceptor-vision"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warnw("vision transport disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Infow("vision transport reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", s.url)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var det Detection
		if err := json.Unmarshal(msg.Data, &det); err != nil {
			s.warn.Do(func() { s.logger.Warnw("ignoring malformed detection", "error", err) })
			return
		}
		now := s.now()
		m := det.Measurement(now)
		if s.restamp {
			m.T = now
		}
		emit(m)
	})
	if err != nil {
		return errors.Wrapf(err, "subscribing to %s", s.subject)
	}
	s.logger.Infow("subscribed to measurements", "url", s.url, "subject", s.subject)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		s.logger.Debugw("unsubscribing", "error", err)
	}
	return ctx.Err()
}
