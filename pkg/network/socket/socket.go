package socket

import (
	"errors"
	"math/rand"
	"net"
	"os"
	"runtime"
	"syscall"
)

const udpBufferSize = 4 * 1024 * 1024

var ErrNoPorts = errors.New("no available ports")

// NewUDP opens a UDP socket on the given ip and port,
// a zero port picks a random one.
func NewUDP(ip string, port int) (*net.UDPConn, error) {
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip), Port: port})
	if err != nil {
		return nil, err
	}
	_ = l.SetReadBuffer(udpBufferSize)
	_ = l.SetWriteBuffer(udpBufferSize)
	return l, nil
}

// NewTCP opens a TCP listener on the given ip and port.
func NewTCP(ip string, port int) (*net.TCPListener, error) {
	return net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP(ip), Port: port})
}

// NewUDPInRange opens a UDP socket on the first free port
// of the [min, max] range starting from a random position.
// Without a range the system picks the port.
func NewUDPInRange(ip string, min, max uint16) (*net.UDPConn, error) {
	if min == 0 || max < min {
		return NewUDP(ip, 0)
	}
	size := int(max) - int(min) + 1
	start := rand.Intn(size)
	for i := 0; i < size; i++ {
		port := int(min) + (start+i)%size
		conn, err := NewUDP(ip, port)
		if err == nil {
			return conn, nil
		}
		if !IsPortBusyError(err) {
			return nil, err
		}
	}
	return nil, ErrNoPorts
}

// IsPortBusyError tests if the given error is one of
// the port busy errors.
func IsPortBusyError(err error) bool {
	if err == nil {
		return false
	}
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const WSAEADDRINUSE = 10048
	if runtime.GOOS == "windows" && errErrno == WSAEADDRINUSE {
		return true
	}
	return false
}
