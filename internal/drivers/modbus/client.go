package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client is a Modbus TCP client. Requests are serialized on one connection.
type Client struct {
	address       string
	timeout       time.Duration
	mu            sync.Mutex
	conn          net.Conn
	transactionID uint16
}

func NewClient(address string, timeout time.Duration) *Client {
	return &Client{
		address: address,
		timeout: timeout,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx)
}

// connect requires c.mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drop()
}

func (c *Client) drop() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes request and waits for the matching response. A transport
// failure closes the connection; the next call redials.
func (c *Client) Send(ctx context.Context, request *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.drop()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	header := make([]byte, mbapLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		c.drop()
		return nil, fmt.Errorf("read failed: %w", err)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapLen+length-1 > maxFrameLen {
		c.drop()
		return nil, fmt.Errorf("invalid response length %d", length)
	}

	buf := make([]byte, mbapLen+length-1)
	copy(buf, header)
	if _, err := io.ReadFull(c.conn, buf[mbapLen:]); err != nil {
		c.drop()
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(buf)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	if response.TransactionID != request.TransactionID {
		c.drop()
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}

	return response, nil
}

func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error) {
	response, err := c.Send(ctx, ReadHoldingRegistersRequest(unitID, startAddr, quantity))
	if err != nil {
		return nil, err
	}

	registers, err := response.ParseRegisterResponse()
	if err != nil {
		return nil, err
	}
	if len(registers) < int(quantity) {
		return nil, fmt.Errorf("short register response: %d of %d", len(registers), quantity)
	}
	return registers, nil
}

func (c *Client) WriteRegisters(ctx context.Context, unitID uint8, addr uint16, values []uint16) error {
	request := WriteMultipleRegistersRequest(unitID, addr, values)
	if len(values) == 1 {
		request = WriteSingleRegisterRequest(unitID, addr, values[0])
	}

	_, err := c.Send(ctx, request)
	return err
}
