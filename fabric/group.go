package fabric

import "fmt"

// A Payload is a unit of application data sent between ranks.
// Size approximates the encoded byte count of the payload and
// determines its simulated transfer size.
type Payload interface {
	Size() int
}

// A Group is one rank's view of a fixed-size process group.
// Each rank runs in its own goroutine on the shared event loop and
// communicates with the others only through the network.
type Group struct {
	// Handle is the rank's main goroutine's handle on the event
	// loop.
	Handle *Handle

	// Port is the current rank's port.
	Port *Port

	// Ports contains ports for all the ranks in the group,
	// including the current rank.
	Ports []*Port

	// Network is the network connecting the ranks.
	Network Network
}

// SpawnGroup creates a Group view for every rank and calls f for each
// rank in its own goroutine.
func SpawnGroup(loop *EventLoop, network Network, size int, f func(g *Group)) {
	ports := make([]*Port, size)
	for i := range ports {
		ports[i] = loop.Port()
	}
	for i := range ports {
		port := ports[i]
		loop.Go(func(h *Handle) {
			f(&Group{
				Handle:  h,
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		})
	}
}

// Size gets the number of ranks in the group.
func (g *Group) Size() int {
	return len(g.Ports)
}

// Rank returns the current rank's index in the group.
func (g *Group) Rank() int {
	return g.rankOf(g.Port)
}

func (g *Group) rankOf(p *Port) int {
	for i, port := range g.Ports {
		if port == p {
			return i
		}
	}
	panic("unreachable")
}

// Send schedules a payload to be sent to the destination rank.
func (g *Group) Send(dst int, payload Payload) {
	g.Network.Send(g.Handle, &Message{
		Source:  g.Port,
		Dest:    g.Ports[dst],
		Payload: payload,
		Size:    float64(payload.Size()),
	})
}

// Recv blocks until the next payload arrives and reports its source
// rank.
func (g *Group) Recv() (Payload, int) {
	msg := g.Port.Recv(g.Handle)
	return msg.Payload.(Payload), g.rankOf(msg.Source)
}

// Bcast sends a payload to every other rank.
func (g *Group) Bcast(payload Payload) {
	messages := make([]*Message, 0, len(g.Ports)-1)
	for _, port := range g.Ports {
		if port == g.Port {
			continue
		}
		messages = append(messages, &Message{
			Source:  g.Port,
			Dest:    port,
			Payload: payload,
			Size:    float64(payload.Size()),
		})
	}
	g.Network.Send(g.Handle, messages...)
}

// Abort terminates the whole group with err. No rank survives;
// in-flight messages are lost.
func (g *Group) Abort(err error) {
	g.Handle.Abort(err)
}

type barrierMsg struct{}

func (barrierMsg) Size() int { return 1 }

// Barrier blocks until every rank in the group has entered the
// barrier. The root rank collects one notification per peer and then
// releases everyone.
//
// The group must be otherwise quiescent: barrier traffic shares the
// ranks' ports with application traffic. The root must be a rank that
// sends nothing to its peers between the preceding traffic and the
// barrier, so that its release cannot race earlier messages.
func (g *Group) Barrier(root int) {
	if g.Size() == 1 {
		return
	}
	if g.Rank() == root {
		for i := 0; i < g.Size()-1; i++ {
			payload, src := g.Recv()
			if _, ok := payload.(barrierMsg); !ok {
				panic(fmt.Sprintf("rank %d sent %T during barrier", src, payload))
			}
		}
		g.Bcast(barrierMsg{})
		return
	}
	g.Send(root, barrierMsg{})
	payload, _ := g.Recv()
	if _, ok := payload.(barrierMsg); !ok {
		panic(fmt.Sprintf("received %T during barrier", payload))
	}
}
