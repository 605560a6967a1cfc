package gateway

import (
	"bytes"
	"errors"
	"io"
	"log"
	"syscall"

	"github.com/gofcgi/wsgigateway/pkg/fastcgi"
)

const recordMaxDataLength = 65535

// ResponseWriterFactory builds the per-request Stdout writer. The gateway
// ships two strategies; callers pick one when constructing a Conn, or
// leave it nil for the buffered default.
type ResponseWriterFactory func(proto *fastcgi.Protocol, requestID uint16) responseWriter

// DirectWriteRequest flushes every application write as its own chunked
// Stdout record immediately; headers are buffered until the first byte of
// real body data forces them out.
var DirectWriteRequest ResponseWriterFactory = func(proto *fastcgi.Protocol, requestID uint16) responseWriter {
	return &directWriter{proto: proto, requestID: requestID}
}

// BufferedRequest (the default) coalesces small writes, including the
// header block itself, into a staging buffer that is flushed as a single
// Stdout record once it reaches recordMaxDataLength bytes.
var BufferedRequest ResponseWriterFactory = func(proto *fastcgi.Protocol, requestID uint16) responseWriter {
	return &bufferedWriter{proto: proto, requestID: requestID}
}

// responseWriter is the internal contract both gateway variants satisfy.
type responseWriter interface {
	setHeaders(status string, headers []HeaderField) error
	write(chunk []byte) error
	finish() error
}

var (
	errHeadersNotSet = errors.New("gateway: response body written before headers were set")
)

func buildHeaderLine(status string, headers []HeaderField) []byte {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.0 ")
	buf.WriteString(status)
	for _, h := range headers {
		buf.WriteString("\r\n")
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
	}
	buf.WriteString("\r\n\r\n")
	return buf.Bytes()
}

// ---- direct-write strategy ----

type directWriter struct {
	proto          *fastcgi.Protocol
	requestID      uint16
	pendingHeaders []byte
	headersWritten bool
}

func (w *directWriter) setHeaders(status string, headers []HeaderField) error {
	if w.headersWritten {
		return ErrHeadersAlreadyWritten
	}
	if w.pendingHeaders != nil {
		return ErrHeadersAlreadySet
	}
	w.pendingHeaders = buildHeaderLine(status, headers)
	return nil
}

func (w *directWriter) flushHeaders() error {
	if w.headersWritten {
		return nil
	}
	if w.pendingHeaders == nil {
		return errHeadersNotSet
	}
	w.headersWritten = true
	line := w.pendingHeaders
	w.pendingHeaders = nil
	return w.proto.WriteStdoutData(w.requestID, line)
}

func (w *directWriter) write(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := w.flushHeaders(); err != nil {
		return err
	}
	return w.proto.WriteStdoutData(w.requestID, chunk)
}

func (w *directWriter) finish() error {
	if err := w.flushHeaders(); err != nil {
		return err
	}
	return w.proto.WriteStdoutClose(w.requestID)
}

// ---- buffered strategy ----

type bufferedWriter struct {
	proto     *fastcgi.Protocol
	requestID uint16
	committed bool
	flushed   bool
	buf       []byte
}

func (w *bufferedWriter) setHeaders(status string, headers []HeaderField) error {
	if w.flushed {
		return ErrHeadersAlreadyWritten
	}
	if w.committed {
		return ErrHeadersAlreadySet
	}
	w.committed = true
	return w.write(buildHeaderLine(status, headers))
}

func (w *bufferedWriter) write(chunk []byte) error {
	off := 0
	for off < len(chunk) {
		if len(w.buf) == 0 && len(chunk)-off >= recordMaxDataLength {
			n := recordMaxDataLength
			w.flushed = true
			if err := w.proto.WriteStdoutData(w.requestID, chunk[off:off+n]); err != nil {
				return err
			}
			off += n
			continue
		}
		n := len(chunk) - off
		if room := recordMaxDataLength - len(w.buf); n > room {
			n = room
		}
		w.buf = append(w.buf, chunk[off:off+n]...)
		off += n
		if len(w.buf) == recordMaxDataLength {
			w.flushed = true
			if err := w.proto.WriteStdoutData(w.requestID, w.buf); err != nil {
				return err
			}
			w.buf = w.buf[:0]
		}
	}
	return nil
}

func (w *bufferedWriter) finish() error {
	if !w.committed {
		return errHeadersNotSet
	}
	if len(w.buf) > 0 {
		w.flushed = true
		if err := w.proto.WriteStdoutData(w.requestID, w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	return w.proto.WriteStdoutClose(w.requestID)
}

// ---- connection state machine ----

// request holds the accumulating state of one in-flight FastCGI request.
type request struct {
	id       uint16
	keepConn bool
	params   bytes.Buffer
	stdin    bytes.Buffer
}

// Conn drives one accepted connection's record stream to completion,
// dispatching each request to app in turn. No multiplexing: at most one
// request is in flight on a connection at a time (multiplexing is not supported).
type Conn struct {
	proto    *fastcgi.Protocol
	app      Application
	strategy ResponseWriterFactory
}

func NewConn(rwc io.ReadWriteCloser, app Application, strategy ResponseWriterFactory) *Conn {
	if strategy == nil {
		strategy = BufferedRequest
	}
	return &Conn{proto: fastcgi.NewProtocol(rwc), app: app, strategy: strategy}
}

// BytesWritten reports how many wire bytes this connection has sent.
func (c *Conn) BytesWritten() uint64 {
	return c.proto.BytesWritten()
}

// Serve reads records until the peer disconnects, an unrecoverable
// protocol error occurs, or the last request completes with
// KeepConn == false. A broken pipe while writing a response is swallowed
// and treated the same as a clean close.
func (c *Conn) Serve() error {
	defer c.proto.Close()

	var req *request
	for {
		rec, err := c.proto.ReadRecord()
		if err != nil {
			if err == io.EOF {
				if req != nil {
					return ErrPrematureEOF
				}
				return nil
			}
			if isBrokenPipe(err) {
				return nil
			}
			return err
		}

		if rec.RequestID() == 0 {
			if req != nil {
				return ErrManagementRecordMidRequest
			}
			if err := c.handleManagementRecord(rec); err != nil {
				if isBrokenPipe(err) {
					return nil
				}
				return err
			}
			continue
		}

		switch v := rec.(type) {
		case *fastcgi.BeginRequestRecord:
			if req != nil {
				return ErrConcurrentRequest
			}
			req = &request{id: v.RequestID(), keepConn: v.KeepConn}

		case *fastcgi.AbortRequestRecord:
			if req == nil || v.RequestID() != req.id {
				return ErrUnknownRequestID
			}
			if err := c.proto.WriteEndRequest(req.id, 0, fastcgi.StatusRequestComplete); err != nil {
				if isBrokenPipe(err) {
					return nil
				}
				return err
			}
			keepConn := req.keepConn
			req = nil
			if !keepConn {
				return nil
			}

		case *fastcgi.ParamsRecord:
			if req == nil || v.RequestID() != req.id {
				return ErrUnknownRequestID
			}
			req.params.Write(v.Data)

		case *fastcgi.StdinRecord:
			if req == nil || v.RequestID() != req.id {
				return ErrUnknownRequestID
			}
			req.stdin.Write(v.Data)
			if len(v.Data) == 0 {
				keepConn := req.keepConn
				err := c.process(req)
				req = nil
				if err != nil {
					if isBrokenPipe(err) {
						return nil
					}
					return err
				}
				if !keepConn {
					return nil
				}
			}

		default:
			return ErrUnexpectedRecord
		}
	}
}

// handleManagementRecord answers FCGI_GET_VALUES at Idle with the
// well-known capability keys; any other management record kind is
// rejected.
func (c *Conn) handleManagementRecord(rec fastcgi.Record) error {
	gv, ok := rec.(*fastcgi.GetValuesRecord)
	if !ok {
		return ErrUnknownManagementRecord
	}
	values := make([]fastcgi.Pair, 0, len(gv.Names))
	for _, name := range gv.Names {
		value, ok := wellKnownValues[name]
		if !ok {
			continue
		}
		values = append(values, fastcgi.Pair{Name: []byte(name), Value: []byte(value)})
	}
	result, err := fastcgi.NewGetValuesResultRecord(0, values)
	if err != nil {
		return err
	}
	return c.proto.WriteRecord(result)
}

// wellKnownValues are this responder's answers to FCGI_GET_VALUES. No
// multiplexing is supported, so FCGI_MPXS_CONNS is always "0".
var wellKnownValues = map[string]string{
	"FCGI_MAX_CONNS":  "1",
	"FCGI_MAX_REQS":   "1",
	"FCGI_MPXS_CONNS": "0",
}

// process invokes the application for a fully-assembled request and
// streams its response, closing over any Body.Close capability on every
// exit path.
func (c *Conn) process(req *request) error {
	params, err := decodeParams(req.params.Bytes())
	if err != nil {
		return err
	}
	env := newEnviron(params, req.stdin.Bytes())

	rw := c.strategy(c.proto, req.id)

	var bodyToClose Body
	startResponse := func(status string, headers []HeaderField, reraise bool) (WriteFunc, error) {
		if !reraise {
			if err := rw.setHeaders(status, headers); err != nil {
				return nil, err
			}
		} else if err := forceSetHeaders(rw, status, headers); err != nil {
			return nil, err
		}
		return rw.write, nil
	}

	body, appErr := c.app(env, startResponse)
	if body != nil {
		bodyToClose = body
	}
	defer closeBody(bodyToClose)

	if appErr != nil {
		return appErr
	}
	if body == nil {
		return ErrNilBody
	}

	for {
		chunk, ok, err := body.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := rw.write(chunk); err != nil {
			return err
		}
	}
	if err := rw.finish(); err != nil {
		return err
	}
	return c.proto.WriteEndRequest(req.id, 0, fastcgi.StatusRequestComplete)
}

// forceSetHeaders replaces headers an application already set, the
// reraise == true case of StartResponseFunc. It only works while no
// response byte has reached the peer; once anything has gone out the only
// honest answer is an error, and the application must let its original
// failure propagate.
func forceSetHeaders(rw responseWriter, status string, headers []HeaderField) error {
	switch w := rw.(type) {
	case *directWriter:
		if w.headersWritten {
			return ErrHeadersAlreadyWritten
		}
		w.pendingHeaders = nil
		return w.setHeaders(status, headers)
	case *bufferedWriter:
		if w.flushed {
			return ErrHeadersAlreadyWritten
		}
		w.committed = false
		w.buf = w.buf[:0]
		return w.setHeaders(status, headers)
	default:
		return ErrHeadersAlreadySet
	}
}

func closeBody(body Body) {
	if closer, ok := body.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("gateway: body close: %v", err)
		}
	}
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe)
}
