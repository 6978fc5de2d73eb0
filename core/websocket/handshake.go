package websocket

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"net/textproto"
	"strings"

	"github.com/searchktools/quickapi/core/http"
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	ErrNotUpgrade   = errors.New("websocket: not an upgrade request")
	ErrBadHandshake = errors.New("websocket: bad handshake")
)

// IsUpgrade reports whether header asks for a WebSocket upgrade.
func IsUpgrade(header textproto.MIMEHeader) bool {
	return headerHasToken(header, "Connection", "upgrade") &&
		headerHasToken(header, "Upgrade", "websocket")
}

// Accept validates the client handshake headers and returns the
// Sec-WebSocket-Accept value for the response.
func Accept(header textproto.MIMEHeader) (string, error) {
	if !IsUpgrade(header) {
		return "", ErrNotUpgrade
	}
	if v := header.Get("Sec-Websocket-Version"); v != "13" {
		return "", fmt.Errorf("%w: unsupported version %q", ErrBadHandshake, v)
	}
	key := header.Get("Sec-Websocket-Key")
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return "", fmt.Errorf("%w: invalid Sec-WebSocket-Key", ErrBadHandshake)
	}
	return computeAcceptKey(key), nil
}

func computeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func headerHasToken(header textproto.MIMEHeader, name, token string) bool {
	for _, v := range header.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// SessionFunc runs a WebSocket session. The connection is closed when it
// returns.
type SessionFunc func(req *http.Request, conn *Conn)

// Upgrade validates req and returns a 101 response whose takeover runs fn on
// the upgraded connection. A plain request gets 426, a malformed handshake
// 400.
func Upgrade(req *http.Request, maxMessageSize int64, fn SessionFunc) (*http.Response, error) {
	accept, err := Accept(req.Header)
	switch {
	case errors.Is(err, ErrNotUpgrade):
		return nil, &http.Error{Status: nethttp.StatusUpgradeRequired, Detail: "websocket upgrade required", Err: err}
	case err != nil:
		return nil, &http.Error{Status: nethttp.StatusBadRequest, Detail: "bad websocket handshake", Err: err}
	}

	resp := http.NewResponse(nethttp.StatusSwitchingProtocols)
	resp.SetHeader("Upgrade", "websocket")
	resp.SetHeader("Connection", "Upgrade")
	resp.SetHeader("Sec-WebSocket-Accept", accept)
	resp.Takeover = func(nc net.Conn, rw *bufio.ReadWriter) {
		conn := NewConn(nc, rw, true)
		if maxMessageSize > 0 {
			conn.SetMaxMessageSize(maxMessageSize)
		}
		defer conn.Close()
		fn(req, conn)
	}
	return resp, nil
}

// ClientHandshake performs the client side of the opening handshake over an
// established connection and returns the client Conn.
func ClientHandshake(nc net.Conn, host, path string, header nethttp.Header) (*Conn, error) {
	var raw [16]byte
	rand.Read(raw[:])
	key := base64.StdEncoding.EncodeToString(raw[:])

	req, err := nethttp.NewRequest(nethttp.MethodGet, "http://"+host+path, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")

	if err := req.Write(nc); err != nil {
		return nil, err
	}

	br := bufio.NewReader(nc)
	resp, err := nethttp.ReadResponse(br, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusSwitchingProtocols {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrBadHandshake, resp.StatusCode)
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return nil, fmt.Errorf("%w: accept key mismatch", ErrBadHandshake)
	}

	return NewConn(nc, bufio.NewReadWriter(br, bufio.NewWriter(nc)), false), nil
}
