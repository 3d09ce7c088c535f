package netif

import (
	"bytes"
	"testing"

	"github.com/tinyrange/netstack/internal/wire"
)

func TestSendDatagramQueuesARPThenFlushesOnLearn(t *testing.T) {
	a := New(wire.MAC{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	nextHop := [4]byte{10, 0, 0, 2}
	dgram := []byte("ip-datagram")

	a.SendDatagram(dgram, nextHop)

	raw, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected an ARP request frame")
	}
	f, ok := wire.ParseFrame(raw)
	if !ok || f.EtherType != wire.EtherTypeARP {
		t.Fatalf("expected ARP frame, got %+v", f)
	}
	if f.Dst != wire.Broadcast {
		t.Fatalf("ARP request should be broadcast, got dst=%v", f.Dst)
	}
	if _, ok := a.MaybeSend(); ok {
		t.Fatalf("datagram should still be queued behind pending ARP resolution")
	}

	// A second send while waiting should just append to the same queue, not
	// trigger another ARP request.
	a.SendDatagram([]byte("second"), nextHop)
	if _, ok := a.MaybeSend(); ok {
		t.Fatalf("no frame should go out for a second queued datagram")
	}

	// Peer replies.
	peerMAC := wire.MAC{2, 2, 2, 2, 2, 2}
	reply := wire.BuildARP(wire.ARPPacket{
		Opcode:    wire.ARPReply,
		SenderMAC: peerMAC,
		SenderIP:  nextHop,
		TargetMAC: a.MAC(),
		TargetIP:  a.IP(),
	})
	frame := wire.BuildFrame(a.MAC(), peerMAC, wire.EtherTypeARP, reply)
	if _, ok := a.RecvFrame(frame); ok {
		t.Fatalf("ARP frame should not surface as a datagram")
	}

	first, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected flushed first datagram frame")
	}
	f1, _ := wire.ParseFrame(first)
	if f1.Dst != peerMAC || !bytes.Equal(f1.Payload, dgram) {
		t.Fatalf("flushed frame mismatch: %+v", f1)
	}

	second, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected flushed second datagram frame")
	}
	f2, _ := wire.ParseFrame(second)
	if !bytes.Equal(f2.Payload, []byte("second")) {
		t.Fatalf("second flushed frame payload: got %q", f2.Payload)
	}

	if _, ok := a.MaybeSend(); ok {
		t.Fatalf("no more frames expected")
	}

	// Now resolved: a further send should go straight out, no ARP needed.
	a.SendDatagram([]byte("third"), nextHop)
	third, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected immediate send once resolved")
	}
	f3, _ := wire.ParseFrame(third)
	if f3.EtherType != wire.EtherTypeIPv4 || f3.Dst != peerMAC {
		t.Fatalf("expected direct IPv4 frame to peer, got %+v", f3)
	}
}

func TestRecvFrameRespondsToARPRequest(t *testing.T) {
	a := New(wire.MAC{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	requesterMAC := wire.MAC{9, 9, 9, 9, 9, 9}
	req := wire.BuildARP(wire.ARPPacket{
		Opcode:    wire.ARPRequest,
		SenderMAC: requesterMAC,
		SenderIP:  [4]byte{10, 0, 0, 9},
		TargetIP:  a.IP(),
	})
	frame := wire.BuildFrame(wire.Broadcast, requesterMAC, wire.EtherTypeARP, req)

	if _, ok := a.RecvFrame(frame); ok {
		t.Fatalf("ARP request should not surface as datagram")
	}

	raw, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected an ARP reply queued")
	}
	f, _ := wire.ParseFrame(raw)
	if f.EtherType != wire.EtherTypeARP || f.Dst != requesterMAC {
		t.Fatalf("expected unicast ARP reply to requester, got %+v", f)
	}
	reply, ok := wire.ParseARP(f.Payload)
	if !ok || reply.Opcode != wire.ARPReply {
		t.Fatalf("expected ARP reply opcode, got %+v", reply)
	}

	// The requester's mapping should now be learned, so sending toward it
	// goes out directly.
	a.SendDatagram([]byte("x"), [4]byte{10, 0, 0, 9})
	direct, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected direct send to learned requester")
	}
	fd, _ := wire.ParseFrame(direct)
	if fd.EtherType != wire.EtherTypeIPv4 || fd.Dst != requesterMAC {
		t.Fatalf("expected direct IPv4 frame, got %+v", fd)
	}
}

func TestRecvFrameSurfacesIPv4AddressedToSelf(t *testing.T) {
	a := New(wire.MAC{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	payload := wire.BuildIPv4([4]byte{10, 0, 0, 2}, a.IP(), wire.ProtocolTCP, 64, []byte("ipv4-datagram"))
	frame := wire.BuildFrame(a.MAC(), wire.MAC{2, 2, 2, 2, 2, 2}, wire.EtherTypeIPv4, payload)

	dgram, ok := a.RecvFrame(frame)
	if !ok {
		t.Fatalf("expected datagram to surface")
	}
	if !bytes.Equal(dgram, payload) {
		t.Fatalf("datagram: got %q, want %q", dgram, payload)
	}
}

func TestRecvFrameDropsIPv4NotAddressedToSelf(t *testing.T) {
	a := New(wire.MAC{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	frame := wire.BuildFrame(wire.MAC{9, 9, 9, 9, 9, 9}, wire.MAC{2, 2, 2, 2, 2, 2}, wire.EtherTypeIPv4, []byte("x"))
	if _, ok := a.RecvFrame(frame); ok {
		t.Fatalf("frame addressed to a different MAC should be dropped")
	}
}

func TestTickExpiresValidMappingAfter30Seconds(t *testing.T) {
	a := New(wire.MAC{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	peerMAC := wire.MAC{2, 2, 2, 2, 2, 2}
	nextHop := [4]byte{10, 0, 0, 2}
	a.learn(nextHop, peerMAC)

	a.Tick(29999)
	a.SendDatagram([]byte("still-valid"), nextHop)
	raw, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected direct send while mapping still valid")
	}
	f, _ := wire.ParseFrame(raw)
	if f.EtherType != wire.EtherTypeIPv4 {
		t.Fatalf("expected direct IPv4 send, got %+v", f)
	}

	a.Tick(2) // total 30001ms, past the 30000ms validity window
	a.SendDatagram([]byte("expired"), nextHop)
	raw, ok = a.MaybeSend()
	if !ok {
		t.Fatalf("expected an ARP request frame after expiry")
	}
	f, _ = wire.ParseFrame(raw)
	if f.EtherType != wire.EtherTypeARP {
		t.Fatalf("expected re-resolution via ARP after mapping expired, got %+v", f)
	}
}

func TestTickResendsARPAfter5Seconds(t *testing.T) {
	a := New(wire.MAC{1, 1, 1, 1, 1, 1}, [4]byte{10, 0, 0, 1})
	nextHop := [4]byte{10, 0, 0, 2}
	a.SendDatagram([]byte("x"), nextHop)
	a.MaybeSend() // drain the initial ARP request

	a.Tick(4999)
	if _, ok := a.MaybeSend(); ok {
		t.Fatalf("should not re-request before 5000ms")
	}

	a.Tick(1)
	raw, ok := a.MaybeSend()
	if !ok {
		t.Fatalf("expected re-broadcast ARP request at 5000ms")
	}
	f, _ := wire.ParseFrame(raw)
	if f.EtherType != wire.EtherTypeARP || f.Dst != wire.Broadcast {
		t.Fatalf("expected re-broadcast ARP request, got %+v", f)
	}
}
