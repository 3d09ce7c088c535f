// Package pcap writes classic libpcap-formatted capture streams, one per
// netif.Interface. Unlike a stack-wide capture sink, each Writer is bound to
// the name of the interface it records, so a driver attaching multiple
// interfaces to separate files gets errors it can actually attribute.
package pcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Common link-layer (DLT) identifiers used in pcap global headers.
const (
	LinkTypeEthernet uint32 = 1
)

// snapLen is fixed rather than caller-configurable: every frame this module
// captures is a full Ethernet frame, well under the conventional 64KiB snap
// length, and no caller ever needs a shorter truncation.
const snapLen = 65535

// ErrHeaderNotWritten indicates a packet was written before the global header.
var ErrHeaderNotWritten = errors.New("pcap: file header not written")

// Writer emits a libpcap stream for a single named interface's frames.
type Writer struct {
	w             io.Writer
	iface         string
	headerWritten bool
}

// NewWriter wraps out as the capture sink for the interface named ifaceName.
// WriteFileHeader must be called once before WritePacket.
func NewWriter(out io.Writer, ifaceName string) *Writer {
	return &Writer{w: out, iface: ifaceName}
}

// WriteFileHeader writes the 24-byte global pcap header.
func (w *Writer) WriteFileHeader(linkType uint32) error {
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 0xa1b2c3d4)
	binary.LittleEndian.PutUint16(hdr[4:6], 2) // Major version
	binary.LittleEndian.PutUint16(hdr[6:8], 4) // Minor version
	binary.LittleEndian.PutUint32(hdr[8:12], 0)
	binary.LittleEndian.PutUint32(hdr[12:16], 0)
	binary.LittleEndian.PutUint32(hdr[16:20], snapLen)
	binary.LittleEndian.PutUint32(hdr[20:24], linkType)

	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("pcap(%s): write header: %w", w.iface, err)
	}
	w.headerWritten = true
	return nil
}

// WritePacket appends one captured frame, stamped with the current time.
func (w *Writer) WritePacket(data []byte) error {
	if !w.headerWritten {
		return fmt.Errorf("pcap(%s): %w", w.iface, ErrHeaderNotWritten)
	}

	n := len(data)
	if n > snapLen {
		n = snapLen
	}

	now := time.Now()
	var rec [16]byte
	binary.LittleEndian.PutUint32(rec[0:4], uint32(now.Unix()))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(now.Nanosecond()/1_000))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(n))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(data)))

	if _, err := w.w.Write(rec[:]); err != nil {
		return fmt.Errorf("pcap(%s): write record header: %w", w.iface, err)
	}
	if n == 0 {
		return nil
	}
	if _, err := w.w.Write(data[:n]); err != nil {
		return fmt.Errorf("pcap(%s): write packet data: %w", w.iface, err)
	}
	return nil
}
