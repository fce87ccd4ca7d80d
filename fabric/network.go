package fabric

import "math/rand"

// A Port identifies a point of communication for one rank.
// Data is sent from Ports and received on Ports.
type Port struct {
	// Incoming is a stream of *Message objects.
	Incoming *Stream
}

// Port creates a new Port attached to the loop.
func (e *EventLoop) Port() *Port {
	return &Port{Incoming: e.Stream()}
}

// Recv receives the next message delivered to the port.
func (p *Port) Recv(h *Handle) *Message {
	return h.Poll(p.Incoming).Payload.(*Message)
}

// A Message is a chunk of data sent between ranks over a network.
type Message struct {
	Source  *Port
	Dest    *Port
	Payload interface{}
	Size    float64
}

// A Network represents an abstract way of communicating between ranks.
type Network interface {
	// Send message objects from one port to another. The message
	// will arrive on the receiving port's incoming Stream if the
	// communication is successful.
	//
	// This is a non-blocking operation.
	Send(h *Handle, msgs ...*Message)
}

// A RandomNetwork delivers every message after an independent random
// delay, so messages sent concurrently arrive in arbitrary order.
// The asynchronous optimizer has to tolerate exactly this delivery
// model: no fairness, no cross-rank ordering.
type RandomNetwork struct {
	// MaxLatency bounds the random delay of each message.
	// Zero is treated as 1.
	MaxLatency float64
}

// Send sends the messages with random delays.
func (r RandomNetwork) Send(h *Handle, msgs ...*Message) {
	maxLatency := r.MaxLatency
	if maxLatency == 0 {
		maxLatency = 1
	}
	for _, msg := range msgs {
		h.Schedule(msg.Dest.Incoming, msg, rand.Float64()*maxLatency)
	}
}
