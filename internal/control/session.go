// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/realtime"
	"github.com/ManuGH/xg2g/internal/tenancy"
	"github.com/ManuGH/xg2g/internal/wire"
)

// SessionDeps collects the domain collaborators a Session dispatches
// control messages to. Server builds one per hijacked connection: the
// domain collaborators are shared, Tenant is that connection's own.
type SessionDeps struct {
	Codec      *wire.Codec
	Router     *realtime.ChannelRouter
	Registry   *realtime.ConnectionRegistry
	Heartbeats *wire.HeartbeatManager
	Presence   *realtime.PresenceTracker
	RateLimit  *tenancy.RateLimiter
	Limits     *tenancy.LimitEnforcer
	Tenant     *tenancy.Tenant
	HBConfig   wire.HeartbeatConfig

	MaxFrameBytes int
}

// Session owns the hijacked TCP connection for one realtime client and
// pumps frames between it and the domain layer until either side closes.
type Session struct {
	deps SessionDeps
	conn net.Conn
	rc   *realtime.Connection
	logr zerolog.Logger

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]chan struct{} // channelID -> forwarder stop signal
}

// NewSession wraps an accepted net.Conn for a tenant-scoped Connection
// already inserted into deps.Registry.
func NewSession(deps SessionDeps, conn net.Conn, rc *realtime.Connection) *Session {
	return &Session{
		deps: deps,
		conn: conn,
		rc:   rc,
		logr: log.WithComponent("session").With().Str("conn_id", rc.ID).Str("tenant_id", rc.TenantID).Logger(),
		subs: make(map[string]chan struct{}),
	}
}

// Run drives the connection's lifetime: write pump, heartbeat, and the
// blocking read loop. It returns once the connection is closed, by either
// peer or an unrecoverable framing error.
func (s *Session) Run() {
	defer s.cleanup()

	if err := s.rc.Transition(realtime.StateOpen); err != nil {
		s.logr.Warn().Err(err).Msg("could not open connection state")
		return
	}

	s.deps.Heartbeats.AddConnection(s.rc.ID, s.deps.HBConfig)
	s.deps.Heartbeats.Start(s.rc.ID)

	go s.writePump()
	s.readPump()
}

func (s *Session) cleanup() {
	s.deps.Heartbeats.Stop(s.rc.ID)
	s.subMu.Lock()
	for _, stop := range s.subs {
		close(stop)
	}
	s.subs = nil
	s.subMu.Unlock()
	s.deps.Router.RemoveConnection(s.rc.ID)
	_ = s.rc.Transition(realtime.StateClosed)
	s.deps.Registry.Remove(s.rc.ID)
	_ = s.conn.Close()
}

// writePump drains the connection's single outbound queue onto the socket.
// Only this goroutine writes to s.conn.
func (s *Session) writePump() {
	for frame := range s.rc.Outbound {
		if err := wire.WriteFrame(s.conn, frame); err != nil {
			s.logr.Debug().Err(err).Msg("write failed, closing connection")
			_ = s.conn.Close()
			return
		}
	}
}

func (s *Session) enqueue(p *wire.Packet) {
	frame, err := s.deps.Codec.Encode(p)
	if err != nil {
		s.logr.Warn().Err(err).Msg("failed to encode outbound packet")
		return
	}
	if err := s.rc.Send(frame); err != nil {
		s.logr.Warn().Err(err).Msg("failed to enqueue outbound frame")
	}
}

func (s *Session) readPump() {
	for {
		frame, err := wire.ReadFrame(s.conn, s.deps.MaxFrameBytes)
		if err != nil {
			s.logr.Debug().Err(err).Msg("connection read ended")
			return
		}
		p, err := s.deps.Codec.Decode(frame)
		if err != nil {
			s.logr.Warn().Err(err).Msg("dropping unparsable frame")
			continue
		}
		s.rc.TouchSeen()
		s.handlePacket(p)
	}
}

func (s *Session) handlePacket(p *wire.Packet) {
	switch p.Header.Type {
	case wire.MessageTypePong:
		var originalTS int64
		if p.Payload.Heartbeat != nil {
			originalTS = p.Payload.Heartbeat.OriginalTimestamp
		}
		s.deps.Heartbeats.HandlePong(s.rc.ID, time.UnixMilli(originalTS))
	case wire.MessageTypePing:
		s.enqueue(&wire.Packet{
			Header: wire.Header{ID: p.Header.ID, Type: wire.MessageTypePong, Timestamp: time.Now().UnixMilli()},
			Payload: wire.Payload{Heartbeat: &wire.HeartbeatPayload{OriginalTimestamp: p.Header.Timestamp}},
		})
	case wire.MessageTypeJSON:
		if p.Payload.Control != nil {
			s.handleControl(p.Payload.Control)
		}
	default:
		s.logr.Debug().Str("type", string(p.Header.Type)).Msg("ignoring unsupported inbound message type")
	}
}

func (s *Session) handleControl(c *wire.ControlPayload) {
	switch c.Action {
	case wire.ActionSubscribe:
		s.subscribe(c.Channel, c.FromHistory)
	case wire.ActionUnsubscribe:
		s.unsubscribe(c.Channel)
	case wire.ActionPublish:
		s.publish(c.Channel, c.Data)
	case wire.ActionPresence:
		s.presence(c.Channel, c.Data)
	default:
		s.logr.Debug().Str("action", string(c.Action)).Msg("ignoring unsupported control action")
	}
}

func (s *Session) subscribe(channel string, fromHistory int) {
	events, err := s.deps.Router.Subscribe(s.rc.ID, channel, realtime.SubscribeOptions{FromHistory: fromHistory})
	if err != nil {
		s.logr.Warn().Err(err).Str("channel", channel).Msg("subscribe failed")
		return
	}
	stop := make(chan struct{})
	s.subMu.Lock()
	s.subs[channel] = stop
	s.subMu.Unlock()

	go s.forwardChannel(channel, events, stop)
}

func (s *Session) forwardChannel(channel string, events <-chan realtime.OutboundEvent, stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.enqueue(&wire.Packet{
				Header: wire.Header{ID: s.nextID(), Type: wire.MessageTypeEvent, Timestamp: time.Now().UnixMilli()},
				Payload: wire.Payload{Event: &wire.EventPayload{
					Channel: ev.ChannelID,
					Name:    ev.Name,
					Body:    ev.Data,
					Seq:     ev.Seq,
				}},
			})
		case <-stop:
			return
		}
	}
}

func (s *Session) unsubscribe(channel string) {
	s.subMu.Lock()
	stop, ok := s.subs[channel]
	if ok {
		delete(s.subs, channel)
	}
	s.subMu.Unlock()
	if ok {
		close(stop)
	}
	s.deps.Router.Unsubscribe(s.rc.ID, channel, "client_unsubscribe")
}

func (s *Session) publish(channel string, data json.RawMessage) {
	var env struct {
		Name string          `json:"name"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		s.logr.Warn().Err(err).Msg("malformed publish control data")
		return
	}
	if s.deps.Limits != nil && s.deps.Tenant != nil {
		if err := s.deps.Limits.EnforceAndIncrement(context.Background(), s.deps.Tenant, "behaviors_per_minute", tenancy.PeriodMinute); err != nil {
			s.logr.Debug().Err(err).Str("channel", channel).Msg("publish rejected by quota")
			return
		}
	}
	if err := s.deps.Router.Publish(channel, env.Name, env.Body, realtime.PublishOptions{}); err != nil {
		s.logr.Warn().Err(err).Str("channel", channel).Msg("publish failed")
	}
}

func (s *Session) presence(channel string, data json.RawMessage) {
	var env struct {
		Action string             `json:"action"`
		UserID string             `json:"userId"`
		Status string             `json:"status"`
		State  map[string]any     `json:"customState"`
		Device map[string]string  `json:"deviceInfo"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		s.logr.Warn().Err(err).Msg("malformed presence control data")
		return
	}
	switch env.Action {
	case "join":
		s.deps.Presence.Join(realtime.Presence{
			ChannelID: channel, UserID: env.UserID, ConnectionID: s.rc.ID,
			Status: realtime.PresenceStatus(env.Status), CustomState: env.State, DeviceInfo: env.Device,
		})
	case "leave":
		s.deps.Presence.Leave(channel, env.UserID, s.rc.ID)
	case "update":
		_ = s.deps.Presence.Update(realtime.Presence{
			ChannelID: channel, UserID: env.UserID, ConnectionID: s.rc.ID,
			Status: realtime.PresenceStatus(env.Status), CustomState: env.State, DeviceInfo: env.Device,
		})
	case "heartbeat":
		s.deps.Presence.Heartbeat(channel, env.UserID, s.rc.ID)
	}
}

var idSeqMu sync.Mutex
var idSeq uint64

// nextID mints a locally-unique packet id for server-originated frames.
func (s *Session) nextID() string {
	idSeqMu.Lock()
	idSeq++
	n := idSeq
	idSeqMu.Unlock()
	return s.rc.ID + "-" + time.Now().UTC().Format("150405.000000000") + "-" + itoaSession(n)
}

func itoaSession(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
