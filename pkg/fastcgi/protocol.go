package fastcgi

import (
	"bufio"
	"io"
)

// maxRecordContent is the largest content length a single record's header
// can carry (ContentLength is a 16-bit field).
const maxRecordContent = 65535

// Protocol is a buffered record-level reader/writer over one connection.
// It knows nothing about requests or roles; pkg/gateway builds the
// connection state machine on top of it.
type Protocol struct {
	rwc     io.ReadWriteCloser
	reader  *bufio.Reader
	writer  *bufio.Writer
	written uint64
}

func NewProtocol(rwc io.ReadWriteCloser) *Protocol {
	return &Protocol{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
		writer: bufio.NewWriter(rwc),
	}
}

// ReadRecord reads and decodes the next record. It returns io.EOF when the
// peer closed the connection cleanly between records.
func (p *Protocol) ReadRecord() (Record, error) {
	return Parse(p.reader)
}

// WriteRecord serializes rec and flushes it immediately. FastCGI records
// are small enough, and request/response pairing latency-sensitive enough,
// that batching writes across records buys nothing.
func (p *Protocol) WriteRecord(rec Record) error {
	if err := Serialize(p.writer, rec); err != nil {
		return err
	}
	p.written += uint64(headerLen + len(rec.content()) + int(rec.PaddingLength()))
	return p.writer.Flush()
}

// BytesWritten reports how many wire bytes have been sent on this
// connection so far. Protocol is single-goroutine by contract (one worker
// owns the socket), so this is a plain counter.
func (p *Protocol) BytesWritten() uint64 {
	return p.written
}

// WriteStdout emits data as a sequence of Stdout records, each holding at
// most maxRecordContent bytes, followed by the empty record that marks the
// stream's end. Use this for
// a response whose entire body is available up front; an incremental
// gateway writer uses WriteStdoutData/WriteStdoutClose instead so it can
// interleave writes with application output as it is produced.
func (p *Protocol) WriteStdout(requestID uint16, data []byte) error {
	if err := p.WriteStdoutData(requestID, data); err != nil {
		return err
	}
	return p.WriteStdoutClose(requestID)
}

// WriteStderr is WriteStdout's counterpart for the Stderr stream.
func (p *Protocol) WriteStderr(requestID uint16, data []byte) error {
	if err := p.writeStream(TypeStderr, requestID, data); err != nil {
		return err
	}
	return p.writeChunk(TypeStderr, requestID, nil)
}

// WriteStdoutData sends data as one or more Stdout records of at most
// maxRecordContent bytes each. It never sends the empty record that
// terminates the stream; call WriteStdoutClose once the response is
// complete.
func (p *Protocol) WriteStdoutData(requestID uint16, data []byte) error {
	return p.writeStream(TypeStdout, requestID, data)
}

// WriteStdoutClose sends the empty Stdout record that marks the end of the
// output stream for requestID.
func (p *Protocol) WriteStdoutClose(requestID uint16) error {
	return p.writeChunk(TypeStdout, requestID, nil)
}

func (p *Protocol) writeStream(kind RecordType, requestID uint16, data []byte) error {
	for len(data) > 0 {
		chunk := data
		if len(chunk) > maxRecordContent {
			chunk = chunk[:maxRecordContent]
		}
		data = data[len(chunk):]

		if err := p.writeChunk(kind, requestID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) writeChunk(kind RecordType, requestID uint16, chunk []byte) error {
	var rec Record
	var err error
	switch kind {
	case TypeStdout:
		rec, err = NewStdoutRecord(uint32(requestID), uint32(defaultPadding(len(chunk))), chunk)
	case TypeStderr:
		rec, err = NewStderrRecord(uint32(requestID), uint32(defaultPadding(len(chunk))), chunk)
	default:
		panic("fastcgi: writeChunk called with non-stream record type")
	}
	if err != nil {
		return err
	}
	return p.WriteRecord(rec)
}

// WriteEndRequest sends the terminal EndRequest record for requestID.
func (p *Protocol) WriteEndRequest(requestID uint16, appStatus uint32, status ProtocolStatus) error {
	rec, err := NewEndRequestRecord(uint32(requestID), 0, appStatus, status)
	if err != nil {
		return err
	}
	return p.WriteRecord(rec)
}

func (p *Protocol) Close() error {
	return p.rwc.Close()
}
