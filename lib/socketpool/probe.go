package socketpool

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawConn is satisfied by *net.TCPConn and *net.UnixConn, the two concrete
// conn types a Sockaddr/Named target ever produces.
type rawConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// defaultLivenessProbe performs a non-blocking MSG_PEEK read of one byte on
// the connection's raw file descriptor. It never consumes the byte it sees.
//
// This is the "deliberate" raw-fd probe spec.md §9 describes: net.Conn
// itself has no peek primitive, so the only way to distinguish "idle and
// alive" from "peer closed" or "data waiting" without consuming bytes is a
// MSG_PEEK recv on the underlying fd via SyscallConn.
func defaultLivenessProbe(conn net.Conn) (Liveness, error) {
	rc, ok := conn.(rawConn)
	if !ok {
		return LivenessDead, errUnsupportedConnType
	}
	raw, err := rc.SyscallConn()
	if err != nil {
		return LivenessDead, err
	}

	var buf [1]byte
	var n int
	var recvErr error

	err = raw.Read(func(fd uintptr) bool {
		n, _, recvErr = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		// Always report complete: EAGAIN/EWOULDBLOCK on a MSG_PEEK means no
		// data is pending, which is the expected idle-alive case, not a
		// condition to park the poller on. Returning false here would block
		// the acquire on a live, idle socket until the peer sent something.
		return true
	})
	if err != nil {
		return LivenessDead, err
	}

	switch {
	case recvErr == unix.EAGAIN || recvErr == unix.EWOULDBLOCK:
		return LivenessAlive, nil
	case recvErr != nil:
		return LivenessDead, recvErr
	case n == 0:
		return LivenessDead, nil
	default:
		return LivenessDirty, nil
	}
}

var errUnsupportedConnType = &unsupportedConnError{}

type unsupportedConnError struct{}

func (*unsupportedConnError) Error() string {
	return "socketpool: liveness probe requires a *net.TCPConn or *net.UnixConn"
}
