package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

// signalClient is a browser-like participant driving a pion PeerConnection
// through the relay.
type signalClient struct {
	ws   *websocket.Conn
	room string
	user string
	pc   *webrtc.PeerConnection

	mu sync.Mutex
}

func (c *signalClient) send(typ MessageType, extra map[string]any) error {
	body := map[string]any{"channelName": c.room, "userId": c.user}
	for k, v := range extra {
		body[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(map[string]any{"type": typ, "body": body})
}

// run handles relayed frames until the socket closes.
func (c *signalClient) run(errCh chan<- error) {
	for {
		var f rawFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}
		if err := c.handle(f); err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
	}
}

func (c *signalClient) handle(f rawFrame) error {
	switch f.Type {
	case TypeOfferSDPReceived:
		var sdp SDP
		if err := json.Unmarshal(f.Body, &sdp); err != nil {
			return err
		}
		offer, err := sdp.ToPion()
		if err != nil {
			return err
		}
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			return err
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		// Send before SetLocalDescription so the answer precedes our candidates.
		if err := c.send(TypeSendAnswer, map[string]any{"sdp": SDPFromPion(answer)}); err != nil {
			return err
		}
		return c.pc.SetLocalDescription(answer)
	case TypeAnswerSDPReceived:
		var sdp SDP
		if err := json.Unmarshal(f.Body, &sdp); err != nil {
			return err
		}
		answer, err := sdp.ToPion()
		if err != nil {
			return err
		}
		return c.pc.SetRemoteDescription(answer)
	case TypeICECandidateReceived:
		var cand ICECandidate
		if err := json.Unmarshal(f.Body, &cand); err != nil {
			return err
		}
		return c.pc.AddICECandidate(cand.ToPion())
	}
	return nil
}

func newVNetAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

func TestSignaling_PeersNegotiateThroughRelay(t *testing.T) {
	const (
		cidr = "10.0.0.0/24"
		ipA  = "10.0.0.1"
		ipB  = "10.0.0.2"
	)

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	apiA, err := newVNetAPI(netA)
	if err != nil {
		t.Fatalf("new api A: %v", err)
	}
	apiB, err := newVNetAPI(netB)
	if err != nil {
		t.Fatalf("new api B: %v", err)
	}

	wsURL := startServer(t, Config{})
	wsA := dial(t, wsURL)
	wsB := dial(t, wsURL)

	sendJSON(t, wsA, join("call", "alice"))
	expectRoster(t, wsA, "alice")
	sendJSON(t, wsB, join("call", "bob"))
	expectRoster(t, wsA, "alice", "bob")
	expectRoster(t, wsB, "alice", "bob")
	_ = wsA.SetReadDeadline(time.Time{})
	_ = wsB.SetReadDeadline(time.Time{})

	pcA, err := apiA.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc A: %v", err)
	}
	t.Cleanup(func() { _ = pcA.Close() })
	pcB, err := apiB.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new pc B: %v", err)
	}
	t.Cleanup(func() { _ = pcB.Close() })

	alice := &signalClient{ws: wsA, room: "call", user: "alice", pc: pcA}
	bob := &signalClient{ws: wsB, room: "call", user: "bob", pc: pcB}

	errCh := make(chan error, 4)
	for _, c := range []*signalClient{alice, bob} {
		c := c
		c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand == nil {
				return
			}
			if err := c.send(TypeSendICECandidate, map[string]any{"candidate": ICECandidateFromPion(cand.ToJSON())}); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		})
		go c.run(errCh)
	}

	received := make(chan string, 1)
	pcB.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case received <- string(msg.Data):
			default:
			}
		})
	})

	dc, err := pcA.CreateDataChannel("chat", nil)
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	offer, err := pcA.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if err := alice.send(TypeSendOffer, map[string]any{"sdp": SDPFromPion(offer)}); err != nil {
		t.Fatalf("send offer: %v", err)
	}
	if err := pcA.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}

	select {
	case <-opened:
	case err := <-errCh:
		t.Fatalf("signaling: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for datachannel to open")
	}

	if err := dc.SendText("hello bob"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-received:
		if got != "hello bob" {
			t.Fatalf("received %q", got)
		}
	case err := <-errCh:
		t.Fatalf("signaling: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for datachannel message")
	}
}
