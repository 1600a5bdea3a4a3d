package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/OmRatnaparkhe/WeMeet/internal/metrics"
	"github.com/OmRatnaparkhe/WeMeet/internal/room"
)

const tracerName = "github.com/OmRatnaparkhe/WeMeet/internal/signaling"

// Router applies decoded client messages to the room registry and fans the
// results out to room members. It is not safe for concurrent use; the Hub
// serializes every call.
type Router struct {
	rooms   *room.Registry[Peer]
	metrics *metrics.Metrics
	log     *slog.Logger
	tracer  trace.Tracer
}

func NewRouter(rooms *room.Registry[Peer], m *metrics.Metrics, log *slog.Logger) *Router {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{
		rooms:   rooms,
		metrics: m,
		log:     log,
		tracer:  otel.Tracer(tracerName),
	}
}

// Dispatch handles one raw frame from sender. Malformed frames are dropped
// without any reply.
func (r *Router) Dispatch(ctx context.Context, sender Peer, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		reason := metrics.DropReasonMalformed
		if errors.Is(err, ErrUnknownType) {
			reason = metrics.DropReasonUnknownType
		}
		r.metrics.Drop(reason)
		r.log.Debug("signaling_message_dropped", "conn_id", sender.ID(), "reason", reason, "err", err)
		return
	}

	t := msg.target()
	_, span := r.tracer.Start(ctx, "signaling.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("signaling.type", string(msg.Type())),
			attribute.String("signaling.room", t.Room),
		),
	)
	defer span.End()

	r.metrics.MessageRouted(string(msg.Type()))

	var delivered int
	switch m := msg.(type) {
	case Join:
		roster, vacated := r.rooms.Join(m.Room, m.UserID, sender)
		for _, v := range vacated {
			// A rename inside the same room is not announced to the renamer.
			exclude := ""
			if v.Room == m.Room {
				exclude = m.UserID
			}
			delivered += r.fanOut(v.Room, exclude, TypeUserLeft, v.ParticipantID)
		}
		sort.Strings(roster)
		delivered += r.fanOut(m.Room, "", TypeJoined, roster)
		r.log.Debug("room_joined", "conn_id", sender.ID(), "room", m.Room, "user_id", m.UserID, "members", len(roster))
	case Quit:
		if _, ok := r.rooms.Members(m.Room)[m.UserID]; !ok {
			break
		}
		remaining := r.rooms.Leave(m.Room, m.UserID)
		if len(remaining) > 0 {
			delivered += r.fanOut(m.Room, "", TypeUserLeft, m.UserID)
		}
		r.log.Debug("room_left", "conn_id", sender.ID(), "room", m.Room, "user_id", m.UserID, "members", len(remaining))
	case SendOffer:
		delivered += r.fanOut(m.Room, m.UserID, TypeOfferSDPReceived, m.Raw)
	case SendAnswer:
		delivered += r.fanOut(m.Room, m.UserID, TypeAnswerSDPReceived, m.Raw)
	case SendICECandidate:
		delivered += r.fanOut(m.Room, m.UserID, TypeICECandidateReceived, m.Raw)
	case SendChat:
		delivered += r.fanOut(m.Room, m.UserID, TypeChatMessageReceived, ChatBody{UserID: m.UserID, Message: m.Text})
	}
	span.SetAttributes(attribute.Int("signaling.recipients", delivered))
}

// Evict removes every membership held by p and tells the rooms it left.
func (r *Router) Evict(ctx context.Context, p Peer) {
	removed := r.rooms.Evict(p)
	if len(removed) == 0 {
		return
	}
	_, span := r.tracer.Start(ctx, "signaling.evict", trace.WithAttributes(
		attribute.String("signaling.conn_id", p.ID()),
		attribute.Int("signaling.memberships", len(removed)),
	))
	defer span.End()

	for _, m := range removed {
		r.fanOut(m.Room, "", TypeUserLeft, m.ParticipantID)
		r.log.Debug("room_evicted", "conn_id", p.ID(), "room", m.Room, "user_id", m.ParticipantID)
	}
}

// fanOut sends one encoded frame to every member of room except the member
// registered as exclude. A recipient that cannot accept the frame is skipped.
func (r *Router) fanOut(roomName, exclude string, t MessageType, body any) int {
	members := r.rooms.Members(roomName)
	if len(members) == 0 {
		return 0
	}
	frame, err := encode(t, body)
	if err != nil {
		r.log.Error("signaling_encode_failed", "type", t, "err", err)
		return 0
	}

	delivered := 0
	for id, p := range members {
		if id == exclude {
			continue
		}
		if p.Send(frame) {
			delivered++
			r.metrics.Delivered()
			continue
		}
		r.metrics.DeliveryFailed()
		r.log.Debug("signaling_delivery_failed", "room", roomName, "user_id", id, "conn_id", p.ID(), "type", t)
	}
	return delivered
}
