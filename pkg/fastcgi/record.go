// Package fastcgi implements the FastCGI wire protocol: record framing,
// name-value pair streams, and per-record validation. It has no notion of
// sockets or worker scheduling; see pkg/gateway and pkg/workerpool for
// those layers.
package fastcgi

import (
	"bytes"
	"encoding/binary"
	"io"
)

// RecordType is the wire tag identifying a record's payload shape.
type RecordType uint8

const (
	TypeBeginRequest    RecordType = 1
	TypeAbortRequest    RecordType = 2
	TypeEndRequest      RecordType = 3
	TypeParams          RecordType = 4
	TypeStdin           RecordType = 5
	TypeStdout          RecordType = 6
	TypeStderr          RecordType = 7
	TypeData            RecordType = 8
	TypeGetValues       RecordType = 9
	TypeGetValuesResult RecordType = 10
	TypeUnknownType     RecordType = 11
)

// Role is the FastCGI application role requested by BeginRequest.
type Role uint16

const (
	RoleResponder  Role = 1
	RoleAuthorizer Role = 2
	RoleFilter     Role = 3
)

func (r Role) valid() bool {
	return r == RoleResponder || r == RoleAuthorizer || r == RoleFilter
}

// ProtocolStatus is the outcome reported in EndRequest.
type ProtocolStatus uint8

const (
	StatusRequestComplete   ProtocolStatus = 0
	StatusCantMultiplexConn ProtocolStatus = 1
	StatusOverloaded        ProtocolStatus = 2
	StatusUnknownRole       ProtocolStatus = 3
)

func (s ProtocolStatus) valid() bool {
	return s <= StatusUnknownRole
}

const flagKeepConn uint8 = 1

// Record is the tagged sum of every FastCGI record variant. Each concrete
// type below is a variant; Parse and Serialize are the two total functions
// over this sum that the codec guarantees round-trip.
type Record interface {
	recordType() RecordType
	RequestID() uint16
	PaddingLength() uint8
	content() []byte
	equalPayload(Record) bool
}

// Equal reports whether a and b have the same tag and the same payload,
// including RequestID and PaddingLength. Padding bytes themselves are never
// compared.
func Equal(a, b Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.recordType() != b.recordType() {
		return false
	}
	if a.RequestID() != b.RequestID() || a.PaddingLength() != b.PaddingLength() {
		return false
	}
	return a.equalPayload(b)
}

func validateRequestID(id uint32, requestScoped bool) (uint16, error) {
	if id >= 1<<16 {
		return 0, wrap(ErrValueOutOfRange, "request_id out of range")
	}
	if requestScoped && id == 0 {
		return 0, wrap(ErrValueOutOfRange, "request-scoped record requires a nonzero request_id")
	}
	if !requestScoped && id != 0 {
		return 0, wrap(ErrValueOutOfRange, "management record requires request_id == 0")
	}
	return uint16(id), nil
}

func validatePadding(p uint32) (uint8, error) {
	if p >= 1<<8 {
		return 0, wrap(ErrValueOutOfRange, "padding_length out of range")
	}
	return uint8(p), nil
}

func validateContent(data []byte) error {
	if len(data) >= 1<<16 {
		return wrap(ErrValueOutOfRange, "content too long")
	}
	return nil
}

// ---- BeginRequest ----

type BeginRequestRecord struct {
	requestID uint16
	padding   uint8
	Role      Role
	KeepConn  bool
}

func NewBeginRequestRecord(requestID, paddingLength uint32, role Role, keepConn bool) (*BeginRequestRecord, error) {
	id, err := validateRequestID(requestID, true)
	if err != nil {
		return nil, err
	}
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	if !role.valid() {
		return nil, wrap(ErrUnknownRole, "begin_request")
	}
	return &BeginRequestRecord{requestID: id, padding: pad, Role: role, KeepConn: keepConn}, nil
}

func (r *BeginRequestRecord) recordType() RecordType { return TypeBeginRequest }
func (r *BeginRequestRecord) RequestID() uint16 { return r.requestID }
func (r *BeginRequestRecord) PaddingLength() uint8 { return r.padding }
func (r *BeginRequestRecord) equalPayload(o Record) bool {
	other, ok := o.(*BeginRequestRecord)
	return ok && r.Role == other.Role && r.KeepConn == other.KeepConn
}

func (r *BeginRequestRecord) content() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], uint16(r.Role))
	if r.KeepConn {
		b[2] = flagKeepConn
	}
	return b
}

func parseBeginRequest(f *frame) (*BeginRequestRecord, error) {
	if len(f.Content) != 8 {
		return nil, wrap(ErrTruncated, "begin_request content")
	}
	id, err := validateRequestID(uint32(f.RequestID), true)
	if err != nil {
		return nil, err
	}
	role := Role(binary.BigEndian.Uint16(f.Content[0:2]))
	if !role.valid() {
		return nil, wrap(ErrUnknownRole, "begin_request")
	}
	flags := f.Content[2]
	if flags&^flagKeepConn != 0 {
		return nil, wrap(ErrReservedBitSet, "begin_request flags")
	}
	return &BeginRequestRecord{
		requestID: id,
		padding:   f.PaddingLength,
		Role:      role,
		KeepConn:  flags&flagKeepConn != 0,
	}, nil
}

// ---- AbortRequest ----

type AbortRequestRecord struct {
	requestID uint16
	padding   uint8
}

func NewAbortRequestRecord(requestID, paddingLength uint32) (*AbortRequestRecord, error) {
	id, err := validateRequestID(requestID, true)
	if err != nil {
		return nil, err
	}
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	return &AbortRequestRecord{requestID: id, padding: pad}, nil
}

func (r *AbortRequestRecord) recordType() RecordType { return TypeAbortRequest }
func (r *AbortRequestRecord) RequestID() uint16 { return r.requestID }
func (r *AbortRequestRecord) PaddingLength() uint8 { return r.padding }
func (r *AbortRequestRecord) content() []byte { return nil }
func (r *AbortRequestRecord) equalPayload(o Record) bool {
	_, ok := o.(*AbortRequestRecord)
	return ok
}

func parseAbortRequest(f *frame) (*AbortRequestRecord, error) {
	id, err := validateRequestID(uint32(f.RequestID), true)
	if err != nil {
		return nil, err
	}
	return &AbortRequestRecord{requestID: id, padding: f.PaddingLength}, nil
}

// ---- EndRequest ----

type EndRequestRecord struct {
	requestID         uint16
	padding           uint8
	ApplicationStatus uint32
	ProtocolStatus    ProtocolStatus
}

func NewEndRequestRecord(requestID, paddingLength, applicationStatus uint32, status ProtocolStatus) (*EndRequestRecord, error) {
	id, err := validateRequestID(requestID, true)
	if err != nil {
		return nil, err
	}
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	if !status.valid() {
		return nil, wrap(ErrUnknownStatus, "end_request")
	}
	return &EndRequestRecord{requestID: id, padding: pad, ApplicationStatus: applicationStatus, ProtocolStatus: status}, nil
}

func (r *EndRequestRecord) recordType() RecordType { return TypeEndRequest }
func (r *EndRequestRecord) RequestID() uint16 { return r.requestID }
func (r *EndRequestRecord) PaddingLength() uint8 { return r.padding }
func (r *EndRequestRecord) equalPayload(o Record) bool {
	other, ok := o.(*EndRequestRecord)
	return ok && r.ApplicationStatus == other.ApplicationStatus && r.ProtocolStatus == other.ProtocolStatus
}

func (r *EndRequestRecord) content() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], r.ApplicationStatus)
	b[4] = byte(r.ProtocolStatus)
	return b
}

func parseEndRequest(f *frame) (*EndRequestRecord, error) {
	if len(f.Content) != 8 {
		return nil, wrap(ErrTruncated, "end_request content")
	}
	id, err := validateRequestID(uint32(f.RequestID), true)
	if err != nil {
		return nil, err
	}
	status := ProtocolStatus(f.Content[4])
	if !status.valid() {
		return nil, wrap(ErrUnknownStatus, "end_request")
	}
	return &EndRequestRecord{
		requestID:         id,
		padding:           f.PaddingLength,
		ApplicationStatus: binary.BigEndian.Uint32(f.Content[0:4]),
		ProtocolStatus:    status,
	}, nil
}

// ---- opaque byte-stream variants: AbortRequest's siblings ----

type byteStreamRecord struct {
	kind      RecordType
	requestID uint16
	padding   uint8
	Data      []byte
}

func newByteStreamRecord(kind RecordType, requestID, paddingLength uint32, data []byte) (*byteStreamRecord, error) {
	id, err := validateRequestID(requestID, true)
	if err != nil {
		return nil, err
	}
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	if err := validateContent(data); err != nil {
		return nil, err
	}
	return &byteStreamRecord{kind: kind, requestID: id, padding: pad, Data: data}, nil
}

func (r *byteStreamRecord) recordType() RecordType { return r.kind }
func (r *byteStreamRecord) RequestID() uint16 { return r.requestID }
func (r *byteStreamRecord) PaddingLength() uint8 { return r.padding }
func (r *byteStreamRecord) content() []byte { return r.Data }
func (r *byteStreamRecord) equalPayload(o Record) bool {
	other := asByteStreamRecord(o)
	return other != nil && other.kind == r.kind && bytes.Equal(r.Data, other.Data)
}

// asByteStreamRecord unwraps any of the five stream record variants (or a
// bare *byteStreamRecord) to compare their shared payload. equalPayload is
// promoted from *byteStreamRecord onto each variant, so the argument it
// receives is whichever concrete wrapper type the caller compared against,
// never the embedded type directly.
func asByteStreamRecord(o Record) *byteStreamRecord {
	switch v := o.(type) {
	case *byteStreamRecord:
		return v
	case *ParamsRecord:
		return v.byteStreamRecord
	case *StdinRecord:
		return v.byteStreamRecord
	case *StdoutRecord:
		return v.byteStreamRecord
	case *StderrRecord:
		return v.byteStreamRecord
	case *DataRecord:
		return v.byteStreamRecord
	default:
		return nil
	}
}

// ParamsRecord, StdinRecord, StdoutRecord, StderrRecord and DataRecord all
// carry opaque content; only Params and Stdin are interpreted by the
// connection handler, Params as a name-value stream.
type ParamsRecord struct{ *byteStreamRecord }
type StdinRecord struct{ *byteStreamRecord }
type StdoutRecord struct{ *byteStreamRecord }
type StderrRecord struct{ *byteStreamRecord }
type DataRecord struct{ *byteStreamRecord }

func NewParamsRecord(requestID, paddingLength uint32, data []byte) (*ParamsRecord, error) {
	r, err := newByteStreamRecord(TypeParams, requestID, paddingLength, data)
	if err != nil {
		return nil, err
	}
	return &ParamsRecord{r}, nil
}

func NewStdinRecord(requestID, paddingLength uint32, data []byte) (*StdinRecord, error) {
	r, err := newByteStreamRecord(TypeStdin, requestID, paddingLength, data)
	if err != nil {
		return nil, err
	}
	return &StdinRecord{r}, nil
}

func NewStdoutRecord(requestID, paddingLength uint32, data []byte) (*StdoutRecord, error) {
	r, err := newByteStreamRecord(TypeStdout, requestID, paddingLength, data)
	if err != nil {
		return nil, err
	}
	return &StdoutRecord{r}, nil
}

func NewStderrRecord(requestID, paddingLength uint32, data []byte) (*StderrRecord, error) {
	r, err := newByteStreamRecord(TypeStderr, requestID, paddingLength, data)
	if err != nil {
		return nil, err
	}
	return &StderrRecord{r}, nil
}

func NewDataRecord(requestID, paddingLength uint32, data []byte) (*DataRecord, error) {
	r, err := newByteStreamRecord(TypeData, requestID, paddingLength, data)
	if err != nil {
		return nil, err
	}
	return &DataRecord{r}, nil
}

func parseByteStream(kind RecordType, f *frame) (*byteStreamRecord, error) {
	id, err := validateRequestID(uint32(f.RequestID), true)
	if err != nil {
		return nil, err
	}
	return &byteStreamRecord{kind: kind, requestID: id, padding: f.PaddingLength, Data: f.Content}, nil
}

// ---- GetValues / GetValuesResult ----

type GetValuesRecord struct {
	padding uint8
	Names   []string
}

func NewGetValuesRecord(paddingLength uint32, names []string) (*GetValuesRecord, error) {
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	return &GetValuesRecord{padding: pad, Names: names}, nil
}

func (r *GetValuesRecord) recordType() RecordType { return TypeGetValues }
func (r *GetValuesRecord) RequestID() uint16 { return 0 }
func (r *GetValuesRecord) PaddingLength() uint8 { return r.padding }
func (r *GetValuesRecord) equalPayload(o Record) bool {
	other, ok := o.(*GetValuesRecord)
	if !ok || len(r.Names) != len(other.Names) {
		return false
	}
	for i, n := range r.Names {
		if other.Names[i] != n {
			return false
		}
	}
	return true
}

func (r *GetValuesRecord) content() []byte {
	pairs := make([]Pair, len(r.Names))
	for i, n := range r.Names {
		pairs[i] = Pair{Name: []byte(n)}
	}
	return EncodePairs(pairs)
}

func parseGetValues(f *frame) (*GetValuesRecord, error) {
	if f.RequestID != 0 {
		return nil, wrap(ErrValueOutOfRange, "get_values requires request_id == 0")
	}
	pairs, err := DecodePairs(f.Content)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if len(p.Value) != 0 {
			return nil, wrap(ErrValueOutOfRange, "get_values value must be empty")
		}
		names = append(names, string(p.Name))
	}
	return &GetValuesRecord{padding: f.PaddingLength, Names: names}, nil
}

type GetValuesResultRecord struct {
	padding uint8
	Values  []Pair
}

func NewGetValuesResultRecord(paddingLength uint32, values []Pair) (*GetValuesResultRecord, error) {
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	return &GetValuesResultRecord{padding: pad, Values: values}, nil
}

func (r *GetValuesResultRecord) recordType() RecordType { return TypeGetValuesResult }
func (r *GetValuesResultRecord) RequestID() uint16 { return 0 }
func (r *GetValuesResultRecord) PaddingLength() uint8 { return r.padding }
func (r *GetValuesResultRecord) content() []byte { return EncodePairs(r.Values) }
func (r *GetValuesResultRecord) equalPayload(o Record) bool {
	other, ok := o.(*GetValuesResultRecord)
	if !ok || len(r.Values) != len(other.Values) {
		return false
	}
	for i, p := range r.Values {
		if !bytes.Equal(p.Name, other.Values[i].Name) || !bytes.Equal(p.Value, other.Values[i].Value) {
			return false
		}
	}
	return true
}

func parseGetValuesResult(f *frame) (*GetValuesResultRecord, error) {
	if f.RequestID != 0 {
		return nil, wrap(ErrValueOutOfRange, "get_values_result requires request_id == 0")
	}
	pairs, err := DecodePairs(f.Content)
	if err != nil {
		return nil, err
	}
	return &GetValuesResultRecord{padding: f.PaddingLength, Values: pairs}, nil
}

// ---- UnknownType ----

type UnknownTypeRecord struct {
	padding     uint8
	UnknownType uint8
}

func NewUnknownTypeRecord(paddingLength uint32, unknownType uint8) (*UnknownTypeRecord, error) {
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	return &UnknownTypeRecord{padding: pad, UnknownType: unknownType}, nil
}

func (r *UnknownTypeRecord) recordType() RecordType { return TypeUnknownType }
func (r *UnknownTypeRecord) RequestID() uint16 { return 0 }
func (r *UnknownTypeRecord) PaddingLength() uint8 { return r.padding }
func (r *UnknownTypeRecord) content() []byte {
	b := make([]byte, 8)
	b[0] = r.UnknownType
	return b
}
func (r *UnknownTypeRecord) equalPayload(o Record) bool {
	other, ok := o.(*UnknownTypeRecord)
	return ok && r.UnknownType == other.UnknownType
}

func parseUnknownType(f *frame) (*UnknownTypeRecord, error) {
	if len(f.Content) != 8 {
		return nil, wrap(ErrTruncated, "unknown_type content")
	}
	if f.RequestID != 0 {
		return nil, wrap(ErrValueOutOfRange, "unknown_type requires request_id == 0")
	}
	for _, b := range f.Content[1:] {
		if b != 0 {
			return nil, wrap(ErrReservedBitSet, "unknown_type reserved bytes")
		}
	}
	return &UnknownTypeRecord{padding: f.PaddingLength, UnknownType: f.Content[0]}, nil
}

// ---- Custom: any type byte outside the eleven known tags ----

type CustomRecord struct {
	Tag       RecordType
	requestID uint16
	padding   uint8
	Data      []byte
}

func NewCustomRecord(tag RecordType, requestID, paddingLength uint32, data []byte) (*CustomRecord, error) {
	id, err := validateRequestID(requestID, true)
	if err != nil {
		return nil, err
	}
	pad, err := validatePadding(paddingLength)
	if err != nil {
		return nil, err
	}
	if err := validateContent(data); err != nil {
		return nil, err
	}
	return &CustomRecord{Tag: tag, requestID: id, padding: pad, Data: data}, nil
}

func (r *CustomRecord) recordType() RecordType { return r.Tag }
func (r *CustomRecord) RequestID() uint16 { return r.requestID }
func (r *CustomRecord) PaddingLength() uint8 { return r.padding }
func (r *CustomRecord) content() []byte { return r.Data }
func (r *CustomRecord) equalPayload(o Record) bool {
	other, ok := o.(*CustomRecord)
	return ok && r.Tag == other.Tag && bytes.Equal(r.Data, other.Data)
}

func parseCustom(f *frame) (*CustomRecord, error) {
	id, err := validateRequestID(uint32(f.RequestID), true)
	if err != nil {
		return nil, err
	}
	return &CustomRecord{Tag: f.Type, requestID: id, padding: f.PaddingLength, Data: f.Content}, nil
}

// ---- dispatch ----

// Parse reads one record from r. It returns io.EOF unmodified when the
// stream ends cleanly before any bytes of the next record arrive; any other
// error is one of the sentinels in errors.go.
func Parse(r io.Reader) (Record, error) {
	f, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return parseFrame(f)
}

func parseFrame(f *frame) (Record, error) {
	switch f.Type {
	case TypeBeginRequest:
		return parseBeginRequest(f)
	case TypeAbortRequest:
		return parseAbortRequest(f)
	case TypeEndRequest:
		return parseEndRequest(f)
	case TypeParams:
		bs, err := parseByteStream(TypeParams, f)
		if err != nil {
			return nil, err
		}
		return &ParamsRecord{bs}, nil
	case TypeStdin:
		bs, err := parseByteStream(TypeStdin, f)
		if err != nil {
			return nil, err
		}
		return &StdinRecord{bs}, nil
	case TypeStdout:
		bs, err := parseByteStream(TypeStdout, f)
		if err != nil {
			return nil, err
		}
		return &StdoutRecord{bs}, nil
	case TypeStderr:
		bs, err := parseByteStream(TypeStderr, f)
		if err != nil {
			return nil, err
		}
		return &StderrRecord{bs}, nil
	case TypeData:
		bs, err := parseByteStream(TypeData, f)
		if err != nil {
			return nil, err
		}
		return &DataRecord{bs}, nil
	case TypeGetValues:
		return parseGetValues(f)
	case TypeGetValuesResult:
		return parseGetValuesResult(f)
	case TypeUnknownType:
		return parseUnknownType(f)
	default:
		return parseCustom(f)
	}
}

// Serialize writes rec to w as exactly one wire frame.
func Serialize(w io.Writer, rec Record) error {
	return writeFrame(w, rec.recordType(), rec.RequestID(), rec.content(), rec.PaddingLength())
}
