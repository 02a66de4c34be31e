package relay

import (
	"fmt"
	"io"
	"net"
	"strconv"
)

// SOCKS5 protocol bytes (RFC 1928).
const (
	socksVersion = 0x05

	methodNoAuth       = 0x00
	methodNoAcceptable = 0xFF

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// Reply codes (RFC 1928 section 6).
const (
	replySucceeded           = 0x00
	replyHostUnreachable     = 0x04
	replyConnectionRefused   = 0x05
	replyCommandNotSupported = 0x07
	replyAddrTypeUnsupported = 0x08
)

// request is one parsed SOCKS5 request.
type request struct {
	cmd  byte
	host string // literal IP or domain name
	port uint16
}

// target returns the host:port form a dialer expects.
func (r request) target() string {
	return net.JoinHostPort(r.host, strconv.Itoa(int(r.port)))
}

// negotiate performs method selection. Only "no authentication required"
// is acceptable; anything else gets the no-acceptable-methods reply and an
// error, which fails the session.
func negotiate(rw io.ReadWriter) error {
	var head [2]byte
	if _, err := io.ReadFull(rw, head[:]); err != nil {
		return fmt.Errorf("reading method selection: %w", err)
	}
	if head[0] != socksVersion {
		return fmt.Errorf("unsupported SOCKS version %#02x", head[0])
	}
	if head[1] == 0 {
		return fmt.Errorf("method selection offers no methods")
	}

	methods := make([]byte, head[1])
	if _, err := io.ReadFull(rw, methods); err != nil {
		return fmt.Errorf("reading methods: %w", err)
	}

	for _, m := range methods {
		if m == methodNoAuth {
			_, err := rw.Write([]byte{socksVersion, methodNoAuth})
			return err
		}
	}

	if _, err := rw.Write([]byte{socksVersion, methodNoAcceptable}); err != nil {
		return err
	}
	return fmt.Errorf("no acceptable authentication method offered")
}

// readRequest parses one SOCKS5 request. An address type this subset does
// not speak leaves the stream position unknowable, so it is an error here
// (after the wire reply) rather than something to skip past.
func readRequest(rw io.ReadWriter) (request, error) {
	var head [4]byte
	if _, err := io.ReadFull(rw, head[:]); err != nil {
		return request{}, fmt.Errorf("reading request: %w", err)
	}
	if head[0] != socksVersion {
		return request{}, fmt.Errorf("unsupported SOCKS version %#02x in request", head[0])
	}

	req := request{cmd: head[1]}

	switch head[3] {
	case atypIPv4:
		var addr [4]byte
		if _, err := io.ReadFull(rw, addr[:]); err != nil {
			return request{}, fmt.Errorf("reading IPv4 address: %w", err)
		}
		req.host = net.IP(addr[:]).String()

	case atypDomain:
		var n [1]byte
		if _, err := io.ReadFull(rw, n[:]); err != nil {
			return request{}, fmt.Errorf("reading domain length: %w", err)
		}
		if n[0] == 0 {
			return request{}, fmt.Errorf("empty domain name")
		}
		domain := make([]byte, n[0])
		if _, err := io.ReadFull(rw, domain); err != nil {
			return request{}, fmt.Errorf("reading domain name: %w", err)
		}
		req.host = string(domain)

	case atypIPv6:
		var addr [16]byte
		if _, err := io.ReadFull(rw, addr[:]); err != nil {
			return request{}, fmt.Errorf("reading IPv6 address: %w", err)
		}
		req.host = net.IP(addr[:]).String()

	default:
		_ = writeReply(rw, replyAddrTypeUnsupported, nil)
		return request{}, fmt.Errorf("unsupported address type %#02x", head[3])
	}

	var port [2]byte
	if _, err := io.ReadFull(rw, port[:]); err != nil {
		return request{}, fmt.Errorf("reading port: %w", err)
	}
	req.port = uint16(port[0])<<8 | uint16(port[1])
	return req, nil
}

// writeReply sends one SOCKS5 reply carrying bind as the bound address,
// or the IPv4 zero address when bind is absent, in a single write.
func writeReply(w io.Writer, code byte, bind net.Addr) error {
	ip := net.IPv4zero
	port := 0
	if tcp, ok := bind.(*net.TCPAddr); ok && tcp != nil {
		ip = tcp.IP
		port = tcp.Port
	}

	var out []byte
	if v4 := ip.To4(); v4 != nil {
		out = append([]byte{socksVersion, code, 0x00, atypIPv4}, v4...)
	} else {
		out = append([]byte{socksVersion, code, 0x00, atypIPv6}, ip.To16()...)
	}
	out = append(out, byte(port>>8), byte(port))

	_, err := w.Write(out)
	return err
}
