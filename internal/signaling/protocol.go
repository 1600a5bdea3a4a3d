package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pion/webrtc/v4"
)

type MessageType string

// Client to server.
const (
	TypeJoin             MessageType = "join"
	TypeQuit             MessageType = "quit"
	TypeSendOffer        MessageType = "send_offer"
	TypeSendAnswer       MessageType = "send_answer"
	TypeSendICECandidate MessageType = "send_ice_candidate"
	TypeSendChat         MessageType = "send_chat"
)

// Server to client.
const (
	TypeJoined               MessageType = "joined"
	TypeUserLeft             MessageType = "user_left"
	TypeOfferSDPReceived     MessageType = "offer_sdp_received"
	TypeAnswerSDPReceived    MessageType = "answer_sdp_received"
	TypeICECandidateReceived MessageType = "ice_candidate_received"
	TypeChatMessageReceived  MessageType = "chat_message_received"
)

var (
	ErrMalformed   = errors.New("malformed signaling message")
	ErrUnknownType = errors.New("unknown signaling message type")
)

// SDP is a session description as produced by RTCPeerConnection.localDescription.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(s.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// ICECandidate is RTCIceCandidate.toJSON(). An empty Candidate line signals
// end-of-candidates and is forwarded as-is.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func ICECandidateFromPion(init webrtc.ICECandidateInit) ICECandidate {
	return ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c ICECandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Target names the room and participant a client message is about.
type Target struct {
	Room   string
	UserID string
}

func (t Target) target() Target { return t }

// Message is a decoded client frame: one of Join, Quit, SendOffer,
// SendAnswer, SendICECandidate or SendChat.
type Message interface {
	Type() MessageType
	target() Target
}

type Join struct{ Target }

type Quit struct{ Target }

// SendOffer, SendAnswer and SendICECandidate carry the payload twice: the
// typed form checked by Decode, and Raw, the exact bytes the client sent.
// Only Raw is relayed.
type SendOffer struct {
	Target
	SDP SDP
	Raw json.RawMessage
}

type SendAnswer struct {
	Target
	SDP SDP
	Raw json.RawMessage
}

type SendICECandidate struct {
	Target
	Candidate ICECandidate
	Raw       json.RawMessage
}

type SendChat struct {
	Target
	Text string
}

func (Join) Type() MessageType             { return TypeJoin }
func (Quit) Type() MessageType             { return TypeQuit }
func (SendOffer) Type() MessageType        { return TypeSendOffer }
func (SendAnswer) Type() MessageType       { return TypeSendAnswer }
func (SendICECandidate) Type() MessageType { return TypeSendICECandidate }
func (SendChat) Type() MessageType         { return TypeSendChat }

type envelope struct {
	Type MessageType     `json:"type"`
	Body json.RawMessage `json:"body"`
}

type clientBody struct {
	ChannelName string        `json:"channelName"`
	UserID      participantID `json:"userId"`
	SDP         json.RawMessage `json:"sdp"`
	Candidate   json.RawMessage `json:"candidate"`
	Message     *string         `json:"message"`
}

// participantID accepts a JSON string or number. Numbers keep their literal
// text, so 42 and "42" name the same participant.
type participantID string

func (p *participantID) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch v := v.(type) {
	case string:
		*p = participantID(v)
	case json.Number:
		*p = participantID(v.String())
	default:
		return fmt.Errorf("userId must be a string or number")
	}
	return nil
}

// Decode parses one client frame. Every error wraps ErrMalformed or
// ErrUnknownType.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrMalformed)
	}

	switch env.Type {
	case TypeJoin, TypeQuit, TypeSendOffer, TypeSendAnswer, TypeSendICECandidate, TypeSendChat:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if isAbsent(env.Body) {
		return nil, fmt.Errorf("%w: missing body", ErrMalformed)
	}
	var body clientBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}
	if body.ChannelName == "" {
		return nil, fmt.Errorf("%w: missing channelName", ErrMalformed)
	}
	if body.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrMalformed)
	}
	t := Target{Room: body.ChannelName, UserID: string(body.UserID)}

	switch env.Type {
	case TypeJoin:
		return Join{t}, nil
	case TypeQuit:
		return Quit{t}, nil
	case TypeSendOffer:
		sdp, err := requireSDP(body.SDP, webrtc.SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		return SendOffer{Target: t, SDP: sdp, Raw: body.SDP}, nil
	case TypeSendAnswer:
		sdp, err := requireSDP(body.SDP, webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer)
		if err != nil {
			return nil, err
		}
		return SendAnswer{Target: t, SDP: sdp, Raw: body.SDP}, nil
	case TypeSendICECandidate:
		if isAbsent(body.Candidate) {
			return nil, fmt.Errorf("%w: missing candidate", ErrMalformed)
		}
		var c ICECandidate
		if err := json.Unmarshal(body.Candidate, &c); err != nil {
			return nil, fmt.Errorf("%w: candidate: %v", ErrMalformed, err)
		}
		return SendICECandidate{Target: t, Candidate: c, Raw: body.Candidate}, nil
	default:
		if body.Message == nil || strings.TrimSpace(*body.Message) == "" {
			return nil, fmt.Errorf("%w: missing message", ErrMalformed)
		}
		return SendChat{Target: t, Text: *body.Message}, nil
	}
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func requireSDP(raw json.RawMessage, allowed ...webrtc.SDPType) (SDP, error) {
	if isAbsent(raw) {
		return SDP{}, fmt.Errorf("%w: missing sdp", ErrMalformed)
	}
	var s SDP
	if err := json.Unmarshal(raw, &s); err != nil {
		return SDP{}, fmt.Errorf("%w: sdp: %v", ErrMalformed, err)
	}
	desc, err := s.ToPion()
	if err != nil {
		return SDP{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if desc.SDP == "" {
		return SDP{}, fmt.Errorf("%w: empty sdp", ErrMalformed)
	}
	for _, t := range allowed {
		if desc.Type == t {
			return s, nil
		}
	}
	return SDP{}, fmt.Errorf("%w: unexpected sdp type %q", ErrMalformed, s.Type)
}

type outbound struct {
	Type MessageType `json:"type"`
	Body any         `json:"body"`
}

// ChatBody is the body of chat_message_received.
type ChatBody struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// encode builds one server frame. A json.RawMessage body is spliced in
// verbatim; json.Marshal would compact and HTML-escape it.
func encode(t MessageType, body any) ([]byte, error) {
	raw, ok := body.(json.RawMessage)
	if !ok {
		return json.Marshal(outbound{Type: t, Body: body})
	}
	typ, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(`{"type":,"body":}`)+len(typ)+len(raw))
	frame = append(frame, `{"type":`...)
	frame = append(frame, typ...)
	frame = append(frame, `,"body":`...)
	frame = append(frame, raw...)
	return append(frame, '}'), nil
}
