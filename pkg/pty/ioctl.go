package pty

import "github.com/emkey1/pscal-vproc/pkg/vprocerr"

// Request is the small subset of TTY ioctl requests the pty driver
// understands. Named symbolically rather than reusing
// golang.org/x/sys/unix's platform-numbered constants directly, since the
// two platforms this runs on don't agree on the numeric values.
type Request int

const (
	TIOCSPTLCK Request = iota // master: set/clear the slave lock
	TIOCGPTN                  // master: fetch the slave's pty_num
	TIOCPKT                   // master: toggle packet mode
	TIOCGPKT                  // master: query packet mode
)

// Ioctl dispatches a pty ioctl against the master side, returning an
// integer result where the request produces one (TIOCGPTN, TIOCGPKT).
func (m *Master) Ioctl(req Request, arg int) (int, error) {
	switch req {
	case TIOCSPTLCK:
		m.Unlock(arg != 0)
		return 0, nil
	case TIOCGPTN:
		return m.Num(), nil
	case TIOCPKT:
		m.p.mu.Lock()
		m.p.packetMode = arg != 0
		m.p.mu.Unlock()
		return 0, nil
	case TIOCGPKT:
		m.p.mu.Lock()
		v := 0
		if m.p.packetMode {
			v = 1
		}
		m.p.mu.Unlock()
		return v, nil
	default:
		return 0, vprocerr.Errorf(vprocerr.EINVAL, "unsupported pty ioctl %d", req)
	}
}
