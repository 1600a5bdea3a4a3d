// Package signaling implements the WebSocket relay that lets browser peers
// in the same room exchange WebRTC offers, answers, ICE candidates and chat
// messages.
//
// Each connection has a reader goroutine and a writer goroutine. Readers hand
// frames to a single Hub goroutine, which owns every Router call and every
// eviction, so room membership is only mutated from one place.
package signaling
