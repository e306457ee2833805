package canlink

import (
	"context"
	"fmt"
	"net"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// FrameWriter is the transmit side of a CAN connection.
type FrameWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// SocketCANWriter implements FrameWriter over a SocketCAN interface.
type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

// NewSocketCANWriter dials the named interface ("can0", "vcan0", ...).
func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
