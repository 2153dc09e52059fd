package wire

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Origin:           NodeAddr{3, 7},
		NextHop:          NodeAddr{4, 0},
		PacketLength:     42,
		BackpressureDiff: 5,
		Delay:            1000,
		LastProcessTime:  99,
	}
	buf := make([]byte, HeaderSize)
	n, err := MarshalHeader(h, buf)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if n != HeaderSize {
		t.Fatalf("n = %d, want %d", n, HeaderSize)
	}
	got, err := UnmarshalHeader(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestFusionHeaderRoundTrip(t *testing.T) {
	h := FusionHeader{
		Header: Header{Origin: FusionOrigin, PacketLength: 99, Delay: 12},
		Fused:  true,
		CID:    2,
	}
	buf := make([]byte, FusionHeaderSize)
	if _, err := MarshalFusionHeader(h, buf); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalFusionHeader(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestDataItemRoundTrip(t *testing.T) {
	d := DataItem{
		Header:  Header{Origin: NodeAddr{1, 0}, PacketLength: HeaderSize + 2},
		Payload: []byte{0xCA, 0xFE},
	}
	buf := make([]byte, HeaderSize+2)
	if _, err := MarshalDataItem(d, buf); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalDataItem(buf, 2)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Header != d.Header {
		t.Fatalf("header mismatch: got %+v, want %+v", got.Header, d.Header)
	}
	if string(got.Payload) != string(d.Payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Payload, d.Payload)
	}
}

func TestBeaconRoundTrip(t *testing.T) {
	buf := make([]byte, 2)
	if _, err := MarshalBeacon(BeaconMsg{QueueLog: 17}, buf); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalBeacon(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.QueueLog != 17 {
		t.Fatalf("got %d, want 17", got.QueueLog)
	}
}

func TestShortBuffer(t *testing.T) {
	if _, err := UnmarshalHeader(make([]byte, 3)); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
	if _, err := MarshalHeader(Header{}, make([]byte, 3)); err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}

func TestAckRoundTrip(t *testing.T) {
	m := AckMsg{Origin: NodeAddr{4, 1}, LastProcessTime: 778}
	buf := make([]byte, AckMsgSize)
	if _, err := MarshalAck(m, buf); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalAck(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != m {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestBroadcastAddr(t *testing.T) {
	if !Broadcast.IsBroadcast() {
		t.Fatal("Broadcast should report IsBroadcast")
	}
	if (NodeAddr{1, 0}).IsBroadcast() {
		t.Fatal("node {1,0} should not be broadcast")
	}
}
