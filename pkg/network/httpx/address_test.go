package httpx

import (
	"net"
	"testing"
)

type testListener struct {
	addr net.TCPAddr
}

func (tl testListener) Accept() (net.Conn, error) { return nil, nil }
func (tl testListener) Close() error              { return nil }
func (tl testListener) Addr() net.Addr            { return &tl.addr }

func NewTCP(port int) Listener {
	return Listener{testListener{addr: net.TCPAddr{Port: port}}}
}

func TestMergeAddresses(t *testing.T) {
	tests := []struct {
		addr string
		ls   Listener
		rez  string
	}{
		{addr: "", ls: NewTCP(0), rez: "localhost"},
		{addr: ":", ls: NewTCP(0), rez: "localhost"},
		{addr: "", ls: NewTCP(393), rez: "localhost:393"},
		{addr: ":4443", ls: NewTCP(4443), rez: "localhost:4443"},
		{addr: ":4443", ls: NewTCP(4444), rez: "localhost:4444"},
		{addr: "host:4443", ls: NewTCP(4443), rez: "host:4443"},
		{addr: ":80", ls: NewTCP(80), rez: "localhost"},
		{addr: "[::]", ls: NewTCP(0), rez: "[::]"},
	}

	for _, test := range tests {
		address := mergeAddresses(test.addr, test.ls)
		if address != test.rez {
			t.Errorf("expected %v, got %v", test.rez, address)
		}
	}
}
