// Command signaling-peer is a headless call participant for end-to-end
// tests. It joins a room through the signaling relay, negotiates a WebRTC
// DataChannel with the other member and echoes (answerer) or pings (offerer)
// over it. Progress is printed as single-line markers on stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"golang.org/x/net/websocket"

	"github.com/OmRatnaparkhe/WeMeet/internal/signaling"
)

type frame struct {
	Type signaling.MessageType `json:"type"`
	Body json.RawMessage       `json:"body"`
}

type peer struct {
	ws     *websocket.Conn
	room   string
	userID string
	offer  bool
	pc     *webrtc.PeerConnection

	sendMu  sync.Mutex
	offered bool
}

func main() {
	signalingURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:8090/ws")
	origin := envOrDefault("ORIGIN", "http://localhost")
	room := os.Getenv("ROOM")
	if room == "" {
		fmt.Fprintln(os.Stderr, "ROOM is required")
		os.Exit(2)
	}
	userID := envOrDefault("USER_ID", uuid.NewString())

	ws, err := websocket.Dial(signalingURL, "", origin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", signalingURL, err)
		os.Exit(1)
	}
	defer ws.Close()

	pc, err := webrtc.NewAPI().NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "new peer connection: %v\n", err)
		os.Exit(1)
	}
	defer pc.Close()

	p := &peer{ws: ws, room: room, userID: userID, offer: os.Getenv("ROLE") == "offer", pc: pc}
	p.wire()

	if err := p.send(signaling.TypeJoin, nil); err != nil {
		fmt.Fprintf(os.Stderr, "join: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("READY %s\n", userID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- p.readLoop() }()

	select {
	case <-ctx.Done():
		_ = p.send(signaling.TypeQuit, nil)
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "signaling: %v\n", err)
			os.Exit(1)
		}
	}
}

func (p *peer) wire() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = p.send(signaling.TypeSendICECandidate, map[string]any{"candidate": signaling.ICECandidateFromPion(c.ToJSON())})
	})
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fmt.Printf("STATE %s\n", s)
	})
	// Answerer side: echo whatever arrives.
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			fmt.Printf("MESSAGE %s\n", msg.Data)
			_ = dc.SendText(string(msg.Data))
		})
	})
}

func (p *peer) send(t signaling.MessageType, extra map[string]any) error {
	body := map[string]any{"channelName": p.room, "userId": p.userID}
	for k, v := range extra {
		body[k] = v
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return websocket.JSON.Send(p.ws, map[string]any{"type": t, "body": body})
}

func (p *peer) readLoop() error {
	for {
		var f frame
		if err := websocket.JSON.Receive(p.ws, &f); err != nil {
			return err
		}
		if err := p.handle(f); err != nil {
			return err
		}
	}
}

func (p *peer) handle(f frame) error {
	switch f.Type {
	case signaling.TypeJoined:
		var roster []string
		if err := json.Unmarshal(f.Body, &roster); err != nil {
			return err
		}
		fmt.Printf("ROSTER %d\n", len(roster))
		if p.offer && !p.offered && len(roster) > 1 {
			p.offered = true
			return p.startOffer()
		}
	case signaling.TypeUserLeft:
		var who string
		_ = json.Unmarshal(f.Body, &who)
		fmt.Printf("LEFT %s\n", who)
	case signaling.TypeOfferSDPReceived:
		desc, err := decodeSDP(f.Body)
		if err != nil {
			return err
		}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := p.send(signaling.TypeSendAnswer, map[string]any{"sdp": signaling.SDPFromPion(answer)}); err != nil {
			return err
		}
		return p.pc.SetLocalDescription(answer)
	case signaling.TypeAnswerSDPReceived:
		desc, err := decodeSDP(f.Body)
		if err != nil {
			return err
		}
		return p.pc.SetRemoteDescription(desc)
	case signaling.TypeICECandidateReceived:
		var c signaling.ICECandidate
		if err := json.Unmarshal(f.Body, &c); err != nil {
			return err
		}
		return p.pc.AddICECandidate(c.ToPion())
	case signaling.TypeChatMessageReceived:
		var chat signaling.ChatBody
		if err := json.Unmarshal(f.Body, &chat); err == nil {
			fmt.Printf("CHAT %s %s\n", chat.UserID, chat.Message)
		}
	}
	return nil
}

func (p *peer) startOffer() error {
	dc, err := p.pc.CreateDataChannel("echo", nil)
	if err != nil {
		return err
	}
	dc.OnOpen(func() {
		fmt.Println("DATACHANNEL_OPEN")
		_ = dc.SendText("ping from " + p.userID)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fmt.Printf("ECHO %s\n", msg.Data)
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := p.send(signaling.TypeSendOffer, map[string]any{"sdp": signaling.SDPFromPion(offer)}); err != nil {
		return err
	}
	return p.pc.SetLocalDescription(offer)
}

func decodeSDP(raw json.RawMessage) (webrtc.SessionDescription, error) {
	var s signaling.SDP
	if err := json.Unmarshal(raw, &s); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return s.ToPion()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
