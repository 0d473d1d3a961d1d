// Package omron speaks the proprietary Omron transfer protocol used by the
// supported blood-pressure monitors: framed commands fanned out over four TX
// characteristics, responses reassembled from four RX characteristics, and
// the unlock-key exchange required by models that lock their memory.
package omron

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/internal/ringchan"
)

// ServiceUUID is the Omron transfer service advertised by supported
// monitors. Scans can filter on it to hide unrelated peripherals.
const ServiceUUID = "ecbe3980-c9a2-11e1-b1bd-0002a5d5c51b"

// unlockUUID is the key-exchange characteristic of the transfer service.
const unlockUUID = "b305b680-aee7-11e1-a730-0002a5d5c51b"

var txChannelUUIDs = [4]string{
	"db5b55e0-aee7-11e1-965e-0002a5d5c51b",
	"e0b8a060-aee7-11e1-92f4-0002a5d5c51b",
	"0ae12b00-aee8-11e1-a192-0002a5d5c51b",
	"10e1ba60-aee8-11e1-89e5-0002a5d5c51b",
}

var rxChannelUUIDs = [4]string{
	"49123040-aee8-11e1-a74d-0002a5d5c51b",
	"4d0bf320-aee8-11e1-a0d9-0002a5d5c51b",
	"5128ce60-aee8-11e1-b84b-0002a5d5c51b",
	"560f1420-aee8-11e1-8184-0002a5d5c51b",
}

// Protocol opcodes. A response echoes the opcode with the high bit set.
const (
	opStartTransmission = 0x01
	opEndTransmission   = 0x02
	opReadBlock         = 0x03
	opWriteBlock        = 0x04

	opResponseFlag = 0x80
)

const (
	chunkSize = 16
	// maxBlockRead is the largest EEPROM slice one read command returns.
	maxBlockRead = 0x38

	responseTimeout = 5 * time.Second
)

// checksum is the XOR of every frame byte before it.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// seal wraps a command body in the wire frame: total length first, XOR
// checksum last.
func seal(body []byte) []byte {
	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, byte(len(body)+2))
	frame = append(frame, body...)
	return append(frame, checksum(frame))
}

// unseal validates and strips the frame around a response body.
func unseal(frame []byte) ([]byte, error) {
	if len(frame) < 3 {
		return nil, fmt.Errorf("response frame too short: %d bytes", len(frame))
	}
	if int(frame[0]) != len(frame) {
		return nil, fmt.Errorf("response length mismatch: header says %d, got %d", frame[0], len(frame))
	}
	if sum := checksum(frame[:len(frame)-1]); sum != frame[len(frame)-1] {
		return nil, fmt.Errorf("response checksum mismatch: want %#02x, got %#02x", sum, frame[len(frame)-1])
	}
	return frame[1 : len(frame)-1], nil
}

// frameConn runs the framed command/response exchange over an open link. Not
// safe for concurrent use; the orchestrator guarantees one session at a time.
type frameConn struct {
	ch     device.DataChannel
	logger *logrus.Logger

	responses *ringchan.RingChannel[[]byte]

	// partial response being reassembled across RX channels
	assembling []byte
	expected   int
}

// newFrameConn subscribes to the RX channels and returns a ready connection.
func newFrameConn(ch device.DataChannel, logger *logrus.Logger) (*frameConn, error) {
	if logger == nil {
		logger = logrus.New()
	}
	c := &frameConn{
		ch:        ch,
		logger:    logger,
		responses: ringchan.New[[]byte](8),
	}

	for i, uuid := range rxChannelUUIDs {
		if err := ch.Subscribe(uuid, c.chunkHandler(i)); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to subscribe to RX channel %d: %w", i, err)
		}
	}
	return c, nil
}

// chunkHandler reassembles response frames. The first chunk of a frame
// arrives on RX channel 0 and carries the total length in its first byte;
// continuation chunks follow on the higher channels in order.
func (c *frameConn) chunkHandler(index int) func(data []byte) {
	return func(data []byte) {
		if index == 0 {
			if len(data) == 0 {
				return
			}
			c.assembling = append([]byte(nil), data...)
			c.expected = int(data[0])
		} else {
			if c.assembling == nil {
				c.logger.WithField("channel", index).Warn("dropping continuation chunk without a frame start")
				return
			}
			c.assembling = append(c.assembling, data...)
		}

		if c.expected > 0 && len(c.assembling) >= c.expected {
			frame := c.assembling[:c.expected]
			c.assembling = nil
			c.expected = 0

			if c.responses.ForceSend(frame) {
				c.logger.Warn("dropped unclaimed response frame")
			}
		}
	}
}

// roundTrip seals body, fans the frame out over the TX channels and waits for
// the matching response body.
func (c *frameConn) roundTrip(ctx context.Context, body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty command body")
	}

	// A frame left unclaimed by an aborted exchange must not be matched
	// against this command.
	for {
		if _, ok := c.responses.TryReceive(); !ok {
			break
		}
		c.logger.Warn("discarding stale response frame")
	}

	frame := seal(body)
	for i := 0; len(frame) > 0; i++ {
		if i >= len(txChannelUUIDs) {
			return nil, fmt.Errorf("command of %d bytes exceeds the %d-chunk transport limit", len(body)+2, len(txChannelUUIDs))
		}
		n := len(frame)
		if n > chunkSize {
			n = chunkSize
		}
		if err := c.ch.WriteCharacteristic(ctx, txChannelUUIDs[i], frame[:n]); err != nil {
			return nil, fmt.Errorf("failed to write TX channel %d: %w", i, err)
		}
		frame = frame[n:]
	}

	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("timed out waiting for device response")
	case raw := <-c.responses.C():
		resp, err := unseal(raw)
		if err != nil {
			return nil, err
		}
		if resp[0] != body[0]|opResponseFlag {
			return nil, fmt.Errorf("device rejected command %#02x: response %#02x", body[0], resp[0])
		}
		return resp[1:], nil
	}
}

// readBlock fetches size bytes of device EEPROM starting at addr, splitting
// into multiple commands when size exceeds the per-command limit.
func (c *frameConn) readBlock(ctx context.Context, addr uint16, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for size > 0 {
		n := size
		if n > maxBlockRead {
			n = maxBlockRead
		}
		resp, err := c.roundTrip(ctx, []byte{opReadBlock, byte(addr >> 8), byte(addr), byte(n)})
		if err != nil {
			return nil, fmt.Errorf("failed to read %d bytes at %#04x: %w", n, addr, err)
		}
		if len(resp) != n {
			return nil, fmt.Errorf("short read at %#04x: want %d bytes, got %d", addr, n, len(resp))
		}
		out = append(out, resp...)
		addr += uint16(n)
		size -= n
	}
	return out, nil
}

// writeBlock stores data at addr in device EEPROM.
func (c *frameConn) writeBlock(ctx context.Context, addr uint16, data []byte) error {
	body := make([]byte, 0, len(data)+4)
	body = append(body, opWriteBlock, byte(addr>>8), byte(addr), byte(len(data)))
	body = append(body, data...)
	if _, err := c.roundTrip(ctx, body); err != nil {
		return fmt.Errorf("failed to write %d bytes at %#04x: %w", len(data), addr, err)
	}
	return nil
}

// close drops the RX subscriptions. Errors are logged, not returned; the link
// is about to go away anyway.
func (c *frameConn) close() {
	for i, uuid := range rxChannelUUIDs {
		if err := c.ch.Unsubscribe(uuid); err != nil {
			c.logger.WithError(err).WithField("channel", i).Debug("failed to unsubscribe RX channel")
		}
	}
}
