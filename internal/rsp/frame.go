package rsp

import (
	"bytes"
	"fmt"
)

// ResultKind classifies what Reassembler.Next extracted from the window.
type ResultKind int

const (
	// NeedMore means the window does not yet hold a complete frame;
	// the caller should read more bytes from the command stream and
	// call Next again.
	NeedMore ResultKind = iota
	// ControlC means an out-of-band 0x03 byte was consumed; the caller
	// should translate this into an asynchronous halt request.
	ControlC
	// Packet means a well-framed, checksum-valid payload was decoded
	// and consumed; Result.Payload holds the unescaped payload bytes.
	Packet
	// Garbage means leading bytes preceding the next '$' or 0x03 were
	// discarded; Result.GarbageLen holds how many.
	Garbage
	// ChecksumMismatch means a complete frame was consumed but its
	// checksum did not match; the caller must reply '-' and expect GDB
	// to retransmit.
	ChecksumMismatch
)

// Result is the outcome of one Reassembler.Next call.
type Result struct {
	Kind       ResultKind
	Payload    []byte
	GarbageLen int
}

// Reassembler holds the persistent byte window across reads of the
// command stream, reconstructing RSP frames that may arrive split across
// arbitrary read boundaries. Index 0 of the window is always the start
// of the next candidate frame; consumed bytes are compacted out.
type Reassembler struct {
	window []byte
}

// NewReassembler returns an empty Reassembler with capacity WireMax.
func NewReassembler() *Reassembler {
	return &Reassembler{window: make([]byte, 0, WireMax)}
}

// Feed appends newly-read bytes to the window. It returns an error if
// doing so would exceed the wire bound — a malfunctioning or hostile
// peer streaming bytes without ever completing a frame.
func (r *Reassembler) Feed(b []byte) error {
	if len(r.window)+len(b) > cap(r.window) {
		return fmt.Errorf("rsp: command stream exceeded wire bound %d without a complete frame", cap(r.window))
	}
	r.window = append(r.window, b...)
	return nil
}

// Buffered reports how many bytes are currently held in the window.
func (r *Reassembler) Buffered() int { return len(r.window) }

func (r *Reassembler) consume(n int) {
	r.window = append(r.window[:0], r.window[n:]...)
}

// Next extracts at most one frame/control-byte/garbage-run from the
// window. Call it repeatedly (it returns NeedMore once the window is
// exhausted of complete structure) after each Feed.
func (r *Reassembler) Next() (Result, error) {
	if len(r.window) == 0 {
		return Result{Kind: NeedMore}, nil
	}

	// 1. Scan for the first '$' or ^C, discarding any prefix.
	start := -1
	for i, b := range r.window {
		if b == '$' || b == 0x03 {
			start = i
			break
		}
	}
	if start < 0 {
		n := len(r.window)
		r.consume(n)
		return Result{Kind: Garbage, GarbageLen: n}, nil
	}
	if start > 0 {
		r.consume(start)
		return Result{Kind: Garbage, GarbageLen: start}, nil
	}

	// 2. ^C is a one-byte pseudo-packet.
	if r.window[0] == 0x03 {
		r.consume(1)
		return Result{Kind: ControlC}, nil
	}

	// 3. Find the '#' terminating the payload.
	hashPos := bytes.IndexByte(r.window[1:], '#')
	if hashPos < 0 {
		return Result{Kind: NeedMore}, nil
	}
	hashPos++ // back to an index into r.window

	// 4. Need two more bytes for the checksum digits.
	if len(r.window) < hashPos+3 {
		return Result{Kind: NeedMore}, nil
	}

	wire := r.window[1:hashPos]
	csumHex := r.window[hashPos+1 : hashPos+3]
	frameLen := hashPos + 3

	hi, ok1 := fromHexDigit(csumHex[0])
	lo, ok2 := fromHexDigit(csumHex[1])
	if !ok1 || !ok2 {
		r.consume(frameLen)
		return Result{Kind: ChecksumMismatch}, nil
	}
	want := hi<<4 | lo
	got := Checksum(wire)

	if want != got {
		r.consume(frameLen)
		return Result{Kind: ChecksumMismatch}, nil
	}

	payload, err := Unescape(wire)
	r.consume(frameLen)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: Packet, Payload: payload}, nil
}
