package deploy

import (
	"context"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/retry"
)

// Polling defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 60 * time.Second
	DefaultMaxInterval  = 10 * time.Second
	DefaultMultiplier   = 1.5
)

// Poller waits for a deploy to reach a terminal state.
type Poller struct {
	client hosting.Client

	// Multiplier grows the interval after every non-terminal poll, up to
	// MaxInterval.
	Multiplier  float64
	MaxInterval time.Duration
	// ErrorPolicy retries transient failures of a single status call.
	ErrorPolicy retry.Policy
}

// NewPoller returns a Poller with the default backoff.
func NewPoller(client hosting.Client) *Poller {
	return &Poller{
		client:      client,
		Multiplier:  DefaultMultiplier,
		MaxInterval: DefaultMaxInterval,
		ErrorPolicy: retry.Status(),
	}
}

// WaitForTerminal polls until the deploy is ready or prepared, the host
// reports an error, or maxWait elapses. Zero durations select the
// defaults. Failures are *Error values of kind ErrDeployFailed,
// ErrDeployTimeout or ErrTransport, with Partial.LastState set to the last
// state seen.
func (p *Poller) WaitForTerminal(ctx context.Context, siteID, deployID string, pollInterval, maxWait time.Duration) (*hosting.DeploySession, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	deadline := time.Now().Add(maxWait)

	var last hosting.State
	fail := func(kind error, msg string, err error) error {
		return &Error{Kind: kind, DeployID: deployID, Message: msg, Err: err, Partial: &PartialState{LastState: last}}
	}

	interval := pollInterval
	for polls := 1; ; polls++ {
		var session *hosting.DeploySession
		err := p.ErrorPolicy.Do(ctx, hosting.IsTransient, func(int) error {
			var err error
			session, err = p.client.GetDeployStatus(ctx, siteID, deployID)
			return err
		})
		if err != nil {
			return nil, fail(ErrTransport, "reading deploy status", err)
		}

		last = session.State
		tflog.Debug(ctx, "deploy status", map[string]interface{}{
			"deploy_id": deployID,
			"state":     string(session.State),
			"poll":      polls,
		})

		switch {
		case session.State.Succeeded():
			return session, nil
		case session.State == hosting.StateError:
			msg := session.ErrorMessage
			if msg == "" {
				msg = "host reported an error without a message"
			}
			return nil, fail(ErrDeployFailed, msg, nil)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fail(ErrDeployTimeout, "last state "+string(last)+" after "+maxWait.String(), nil)
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		if err := retry.Sleep(ctx, wait); err != nil {
			return nil, fail(ErrTransport, "waiting for deploy", err)
		}
		interval = p.next(interval)
	}
}

func (p *Poller) next(d time.Duration) time.Duration {
	if p.Multiplier > 1 {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}
