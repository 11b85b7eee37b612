package udp

import (
	"encoding/json"
	"fmt"
	"net"

	"canbits/internal/can"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Publisher sends each decoded frame as one JSON datagram.
type Publisher struct {
	dest string
	conn udpConn
}

func NewPublisher(dest string) (*Publisher, error) {
	return newPublisher(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newPublisher(dest string, resolve resolveFunc, dial dialFunc) (*Publisher, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Publisher{dest: dest, conn: conn}, nil
}

func (p *Publisher) Dest() string { return p.dest }

// Publish marshals the frame and sends it. Nil frames are ignored.
func (p *Publisher) Publish(f *can.Frame) error {
	if f == nil {
		return nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return p.Send(b)
}

func (p *Publisher) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := p.conn.Write(payload)
	return err
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
