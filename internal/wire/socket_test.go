package wire

import (
	"errors"
	"testing"
)

func TestSocketSendRecvRoundTrip(t *testing.T) {
	a, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	defer a.Close()
	b, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	defer b.Close()

	frame, err := New(TypeMsg, Metadata{Name: "a"}, MsgPayload{Text: "ping"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.SendTo(b.LocalAddr(), frame); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	got, from, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Type != TypeMsg {
		t.Errorf("Type = %s, want %s", got.Type, TypeMsg)
	}
	if from.Port != a.LocalAddr().Port {
		t.Errorf("from.Port = %d, want %d", from.Port, a.LocalAddr().Port)
	}
}

func TestSocketRecvTimeout(t *testing.T) {
	s, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	_, _, err = s.Recv()
	if !errors.Is(err, ErrTimeout) && err != ErrTimeout {
		t.Errorf("Recv error = %v, want ErrTimeout", err)
	}
}

func TestSocketRecvMalformedDatagramIsDecodeError(t *testing.T) {
	a, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	defer a.Close()
	b, err := Listen("127.0.0.1", 0)
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	defer b.Close()

	if _, err := a.conn.WriteToUDP([]byte("garbage"), b.LocalAddr()); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	_, _, err = b.Recv()
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("Recv error = %v, want *DecodeError", err)
	}
}
