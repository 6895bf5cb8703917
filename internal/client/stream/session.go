package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/homecart/listsync/internal/client/reconcile"
	"github.com/homecart/listsync/internal/contracts"
)

var (
	ErrHeartbeatTimeout = errors.New("no frame within heartbeat window")
	ErrStreamEnded      = errors.New("stream ended by server")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

type Options struct {
	// HeartbeatInterval is the server's ping period. A stream silent for
	// twice this long is reconnected.
	HeartbeatInterval time.Duration
	RetryMin          time.Duration
	RetryMax          time.Duration
	Logger            *zerolog.Logger
	OnState           func(State)
	OnEvent           func(ev contracts.WireEvent, action reconcile.Action)
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.RetryMin <= 0 {
		o.RetryMin = time.Second
	}
	if o.RetryMax < o.RetryMin {
		o.RetryMax = max(30*time.Second, o.RetryMin)
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Session follows one list while the host app is in the foreground.
type Session struct {
	client *Client
	rec    *reconcile.Reconciler
	opts   Options
	log    zerolog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

func NewSession(client *Client, rec *reconcile.Reconciler, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		client: client,
		rec:    rec,
		opts:   opts,
		log:    opts.Logger.With().Str("household_id", client.HouseholdID).Str("list_id", client.ListID).Logger(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.log.Debug().Str("state", state.String()).Msg("stream state")
		if s.opts.OnState != nil {
			s.opts.OnState(state)
		}
	}
}

// Foreground opens the stream. The list is refetched each time the server
// confirms a stream, so a reconnect also resynchronizes. Calling it while
// already foregrounded does nothing.
func (s *Session) Foreground(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	s.cancel = cancel
	s.wg = wg
	s.mu.Unlock()

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.rec.Run(runCtx, s.client, func(err error) {
			s.log.Warn().Err(err).Msg("list refetch failed")
		})
	}()
	go func() {
		defer wg.Done()
		s.run(runCtx)
	}()
}

// Background closes the stream and waits for it to wind down. Nothing
// reconnects until the next Foreground.
func (s *Session) Background() {
	s.mu.Lock()
	cancel, wg := s.cancel, s.wg
	s.cancel, s.wg = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
}

func (s *Session) run(ctx context.Context) {
	backoff := s.opts.RetryMin
	for {
		s.setState(StateConnecting)
		opened, err := s.connect(ctx)
		if ctx.Err() != nil {
			if opened {
				s.setState(StateClosed)
			}
			s.setState(StateDisconnected)
			return
		}

		s.setState(StateError)
		s.log.Warn().Err(err).Msg("list stream failed")
		s.setState(StateDisconnected)

		if opened {
			backoff = s.opts.RetryMin
		}
		if errors.Is(err, ErrHeartbeatTimeout) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.opts.RetryMax)
	}
}

// connect runs one stream until it fails or ctx ends. opened reports whether
// the server accepted the stream.
func (s *Session) connect(ctx context.Context) (opened bool, err error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := s.client.OpenEvents(connCtx)
	if err != nil {
		return false, err
	}
	defer body.Close()
	s.setState(StateOpen)

	frames := make(chan contracts.WireEvent)
	readErr := make(chan error, 1)
	go func() {
		dec := NewDecoder(body)
		for {
			ev, err := dec.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- ev:
			case <-connCtx.Done():
				return
			}
		}
	}()

	window := 2 * s.opts.HeartbeatInterval
	watchdog := time.NewTimer(window)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return true, ErrStreamEnded
			}
			return true, err
		case <-watchdog.C:
			return true, ErrHeartbeatTimeout
		case ev := <-frames:
			watchdog.Reset(window)
			if ev.Kind == contracts.KindConnected {
				// Anything published while we were away is lost.
				s.rec.RequestRefetch()
			}
			action := s.rec.Apply(ev)
			if s.opts.OnEvent != nil {
				s.opts.OnEvent(ev, action)
			}
		}
	}
}
