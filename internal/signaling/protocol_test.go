package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    Message
		wantErr error
	}{
		{
			name: "join",
			in:   `{"type":"join","body":{"channelName":"r1","userId":"u1"}}`,
			want: Join{Target{Room: "r1", UserID: "u1"}},
		},
		{
			name: "numeric user id",
			in:   `{"type":"join","body":{"channelName":"r1","userId":42}}`,
			want: Join{Target{Room: "r1", UserID: "42"}},
		},
		{
			name: "quit",
			in:   `{"type":"quit","body":{"channelName":"r1","userId":"u1"}}`,
			want: Quit{Target{Room: "r1", UserID: "u1"}},
		},
		{
			name: "offer",
			in:   `{"type":"send_offer","body":{"channelName":"r","userId":"u","sdp":{"type":"offer","sdp":"v=0"}}}`,
			want: SendOffer{Target: Target{Room: "r", UserID: "u"}, SDP: SDP{Type: "offer", SDP: "v=0"}},
		},
		{
			name: "pranswer",
			in:   `{"type":"send_answer","body":{"channelName":"r","userId":"u","sdp":{"type":"pranswer","sdp":"v=0"}}}`,
			want: SendAnswer{Target: Target{Room: "r", UserID: "u"}, SDP: SDP{Type: "pranswer", SDP: "v=0"}},
		},
		{
			name: "end of candidates",
			in:   `{"type":"send_ice_candidate","body":{"channelName":"r","userId":"u","candidate":{"candidate":"","sdpMid":null,"sdpMLineIndex":null}}}`,
			want: SendICECandidate{Target: Target{Room: "r", UserID: "u"}},
		},
		{
			name: "chat",
			in:   `{"type":"send_chat","body":{"channelName":"r","userId":"u","message":"hello"}}`,
			want: SendChat{Target: Target{Room: "r", UserID: "u"}, Text: "hello"},
		},
		{name: "not json", in: `nope`, wantErr: ErrMalformed},
		{name: "trailing data", in: `{"type":"join","body":{"channelName":"r","userId":"u"}} {}`, wantErr: ErrMalformed},
		{name: "unknown type", in: `{"type":"teleport","body":{}}`, wantErr: ErrUnknownType},
		{name: "missing type", in: `{"body":{"channelName":"r","userId":"u"}}`, wantErr: ErrUnknownType},
		{name: "missing body", in: `{"type":"join"}`, wantErr: ErrMalformed},
		{name: "null body", in: `{"type":"join","body":null}`, wantErr: ErrMalformed},
		{name: "body not object", in: `{"type":"join","body":"r1"}`, wantErr: ErrMalformed},
		{name: "missing channel", in: `{"type":"join","body":{"userId":"u"}}`, wantErr: ErrMalformed},
		{name: "missing user", in: `{"type":"join","body":{"channelName":"r"}}`, wantErr: ErrMalformed},
		{name: "bool user", in: `{"type":"join","body":{"channelName":"r","userId":true}}`, wantErr: ErrMalformed},
		{name: "offer without sdp", in: `{"type":"send_offer","body":{"channelName":"r","userId":"u"}}`, wantErr: ErrMalformed},
		{name: "offer with answer sdp", in: `{"type":"send_offer","body":{"channelName":"r","userId":"u","sdp":{"type":"answer","sdp":"v=0"}}}`, wantErr: ErrMalformed},
		{name: "answer with empty sdp", in: `{"type":"send_answer","body":{"channelName":"r","userId":"u","sdp":{"type":"answer","sdp":""}}}`, wantErr: ErrMalformed},
		{name: "unknown sdp type", in: `{"type":"send_offer","body":{"channelName":"r","userId":"u","sdp":{"type":"bogus","sdp":"v=0"}}}`, wantErr: ErrMalformed},
		{name: "candidate missing", in: `{"type":"send_ice_candidate","body":{"channelName":"r","userId":"u"}}`, wantErr: ErrMalformed},
		{name: "candidate not object", in: `{"type":"send_ice_candidate","body":{"channelName":"r","userId":"u","candidate":"x"}}`, wantErr: ErrMalformed},
		{name: "blank chat", in: `{"type":"send_chat","body":{"channelName":"r","userId":"u","message":"  "}}`, wantErr: ErrMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.in))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type() != tc.want.Type() || got.target() != tc.want.target() {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
			switch want := tc.want.(type) {
			case SendOffer:
				if got.(SendOffer).SDP != want.SDP {
					t.Fatalf("sdp=%+v, want %+v", got.(SendOffer).SDP, want.SDP)
				}
			case SendAnswer:
				if got.(SendAnswer).SDP != want.SDP {
					t.Fatalf("sdp=%+v, want %+v", got.(SendAnswer).SDP, want.SDP)
				}
			case SendICECandidate:
				c := got.(SendICECandidate).Candidate
				if c.Candidate != "" || c.SDPMid != nil || c.SDPMLineIndex != nil {
					t.Fatalf("candidate=%+v", c)
				}
			case SendChat:
				if got.(SendChat).Text != want.Text {
					t.Fatalf("text=%q", got.(SendChat).Text)
				}
			}
		})
	}
}

func TestEncode_Shapes(t *testing.T) {
	cases := []struct {
		t    MessageType
		body any
		want string
	}{
		{TypeJoined, []string{"u1", "u2"}, `{"type":"joined","body":["u1","u2"]}`},
		{TypeUserLeft, "u1", `{"type":"user_left","body":"u1"}`},
		{TypeOfferSDPReceived, SDP{Type: "offer", SDP: "v=0"}, `{"type":"offer_sdp_received","body":{"type":"offer","sdp":"v=0"}}`},
		{TypeChatMessageReceived, ChatBody{UserID: "u", Message: "hi"}, `{"type":"chat_message_received","body":{"userId":"u","message":"hi"}}`},
		{TypeAnswerSDPReceived, json.RawMessage(`{ "type": "answer", "sdp": "a=<x>" }`), `{"type":"answer_sdp_received","body":{ "type": "answer", "sdp": "a=<x>" }}`},
	}
	for _, tc := range cases {
		b, err := encode(tc.t, tc.body)
		if err != nil {
			t.Fatalf("encode %s: %v", tc.t, err)
		}
		if string(b) != tc.want {
			t.Fatalf("encode %s=%s, want %s", tc.t, b, tc.want)
		}
	}
}

func TestICECandidate_PionRoundTrip(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	init := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 9 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	got := ICECandidateFromPion(init).ToPion()
	if got.Candidate != init.Candidate || *got.SDPMid != mid || *got.SDPMLineIndex != idx {
		t.Fatalf("round trip=%+v", got)
	}

	sdp := SDPFromPion(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if sdp.Type != "answer" {
		t.Fatalf("sdp type=%q", sdp.Type)
	}
	if _, err := (SDP{Type: "nope"}).ToPion(); err == nil {
		t.Fatalf("expected error for unknown sdp type")
	}
}

func TestDecode_KeepsRawPayload(t *testing.T) {
	sdp := `{"type":"offer","sdp":"v=0\r\n","extra":"keep-me"}`
	msg, err := Decode([]byte(`{"type":"send_offer","body":{"channelName":"r","userId":"u","sdp":` + sdp + `}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := string(msg.(SendOffer).Raw); got != sdp {
		t.Fatalf("raw=%s, want %s", got, sdp)
	}

	cand := `{"candidate":"candidate:1 1 udp 1 192.0.2.1 9 typ host","foo":"bar"}`
	msg, err = Decode([]byte(`{"type":"send_ice_candidate","body":{"channelName":"r","userId":"u","candidate":` + cand + `}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := string(msg.(SendICECandidate).Raw); got != cand {
		t.Fatalf("raw=%s, want %s", got, cand)
	}
}
