package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the protocol role of a frame.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindEvent
	KindCall
	KindReply
	KindConnectError
)

// String returns the kind as a string
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindEvent:
		return "event"
	case KindCall:
		return "call"
	case KindReply:
		return "reply"
	case KindConnectError:
		return "connect_error"
	default:
		return "unknown"
	}
}

// packetType is the wire digit that opens every packet.
type packetType int

const (
	packetTypeConnect packetType = iota
	packetTypeDisconnect
	packetTypeEvent
	packetTypeAck
	packetTypeConnectError
	packetTypeBinaryEvent
	packetTypeBinaryAck
)

func (pt packetType) String() string {
	switch pt {
	case packetTypeConnect:
		return "connect"
	case packetTypeDisconnect:
		return "disconnect"
	case packetTypeEvent:
		return "event"
	case packetTypeAck:
		return "ack"
	case packetTypeConnectError:
		return "connect_error"
	case packetTypeBinaryEvent:
		return "binary_event"
	case packetTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}

// maxIDDigits keeps call ids inside the range every peer can represent.
const maxIDDigits = 15

// Frame is one protocol message.
//
// Argument values are nil, bool, float64, string, []byte (a binary blob),
// []any and map[string]any, nested. Encoding also accepts any other value
// encoding/json can marshal; decoding always yields the types above, with
// every number as float64.
type Frame struct {
	Channel string
	Kind    Kind
	Event   string      // event and call frames
	Args    []any       // event, call and reply frames
	ID      *int        // call and reply frames
	Err     *ReplyError // error replies; excludes Args
	Data    any         // connect and connect_error payload
}

// CallID returns the frame's call id, if it has one.
func (f *Frame) CallID() (int, bool) {
	if f.ID == nil {
		return 0, false
	}
	return *f.ID, true
}

func (f *Frame) validate() error {
	if err := validateChannel(f.Channel); err != nil {
		return &ProtocolError{Channel: f.Channel, Reason: "bad channel", Err: err}
	}

	switch f.Kind {
	case KindEvent:
		if f.ID != nil {
			return &ProtocolError{Channel: f.Channel, Reason: "call id on event frame"}
		}
		if f.Event == "" {
			return &ProtocolError{Channel: f.Channel, Reason: "missing event name"}
		}
	case KindCall:
		if f.ID == nil {
			return &ProtocolError{Channel: f.Channel, Reason: "call frame without call id"}
		}
		if f.Event == "" {
			return &ProtocolError{Channel: f.Channel, Reason: "missing event name"}
		}
	case KindReply:
		if f.ID == nil {
			return &ProtocolError{Channel: f.Channel, Reason: "reply frame without call id"}
		}
		if f.Err != nil && len(f.Args) > 0 {
			return &ProtocolError{Channel: f.Channel, Reason: "reply carries both result and error"}
		}
	case KindConnect, KindDisconnect, KindConnectError:
		if f.ID != nil {
			return &ProtocolError{Channel: f.Channel, Reason: "call id on " + f.Kind.String() + " frame"}
		}
	default:
		return &ProtocolError{Channel: f.Channel, Reason: fmt.Sprintf("unknown frame kind %d", int(f.Kind))}
	}

	if f.ID != nil && (*f.ID < 0 || len(strconv.Itoa(*f.ID)) > maxIDDigits) {
		return &ProtocolError{Channel: f.Channel, Reason: "call id out of range"}
	}
	return nil
}

// NormalizeChannel maps "" to the root channel and adds a missing leading
// slash.
func NormalizeChannel(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func validateChannel(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q must start with /", ErrInvalidChannel, path)
	}
	if strings.ContainsAny(path, ",") {
		return fmt.Errorf("%w: %q contains a comma", ErrInvalidChannel, path)
	}
	return nil
}

// Codec encodes frames and creates decoders under one set of limits.
type Codec struct {
	Limits Limits
}

// Encode encodes a frame into a text packet and its binary attachments.
//
// Layout: <type digit>[<attachments>-][<channel>,][<call id>][<json>]. The
// channel prefix is omitted for the root channel.
func (c Codec) Encode(f *Frame) (string, [][]byte, error) {
	limits := c.Limits.withDefaults()

	if err := f.validate(); err != nil {
		return "", nil, err
	}

	var (
		pt          packetType
		payload     any
		attachments [][]byte
	)

	switch f.Kind {
	case KindConnect:
		pt = packetTypeConnect
		payload = f.Data
	case KindConnectError:
		pt = packetTypeConnectError
		payload = f.Data
	case KindDisconnect:
		pt = packetTypeDisconnect
	case KindEvent, KindCall:
		d := &deconstructor{limits: limits}
		data := make([]any, 0, len(f.Args)+1)
		data = append(data, f.Event)
		for _, arg := range f.Args {
			v, err := d.walk(arg, 1)
			if err != nil {
				return "", nil, withChannel(err, f.Channel)
			}
			data = append(data, v)
		}
		payload = data
		attachments = d.attachments
		pt = packetTypeEvent
		if len(attachments) > 0 {
			pt = packetTypeBinaryEvent
		}
	case KindReply:
		data := make([]any, 0, len(f.Args))
		if f.Err != nil {
			data = append(data, encodeReplyError(f.Err))
		} else {
			d := &deconstructor{limits: limits}
			for _, arg := range f.Args {
				v, err := d.walk(arg, 1)
				if err != nil {
					return "", nil, withChannel(err, f.Channel)
				}
				data = append(data, v)
			}
			attachments = d.attachments
		}
		payload = data
		pt = packetTypeAck
		if len(attachments) > 0 {
			pt = packetTypeBinaryAck
		}
	}

	var builder strings.Builder

	builder.WriteString(strconv.Itoa(int(pt)))

	if len(attachments) > 0 {
		builder.WriteString(strconv.Itoa(len(attachments)))
		builder.WriteByte('-')
	}

	if f.Channel != "" && f.Channel != "/" {
		builder.WriteString(f.Channel)
		builder.WriteByte(',')
	}

	if f.ID != nil {
		builder.WriteString(strconv.Itoa(*f.ID))
	}

	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return "", nil, &ProtocolError{Channel: f.Channel, Reason: "marshal packet data", Err: err}
		}
		builder.Write(jsonData)
	}

	return builder.String(), attachments, nil
}

// NewDecoder returns a decoder for one connection's inbound packets.
func (c Codec) NewDecoder() *Decoder {
	return &Decoder{limits: c.Limits.withDefaults()}
}

// Encode encodes a frame under the default limits.
func Encode(f *Frame) (string, [][]byte, error) {
	return Codec{}.Encode(f)
}

// Decode decodes one complete packet and its attachments under the default
// limits.
func Decode(text string, attachments ...[]byte) (*Frame, error) {
	d := Codec{}.NewDecoder()

	frame, err := d.Feed(text)
	if err != nil {
		return nil, err
	}
	for i, attachment := range attachments {
		if frame != nil {
			return nil, protocolErr(fmt.Sprintf("unexpected attachment %d", i), nil)
		}
		frame, err = d.FeedBinary(attachment)
		if err != nil {
			return nil, err
		}
	}
	if frame == nil {
		return nil, protocolErr("truncated packet: missing attachments", nil)
	}
	return frame, nil
}

// Decoder turns a connection's packets back into frames. A binary packet is
// only complete once all of its attachments have been fed. Decoders are not
// safe for concurrent use; each connection owns one.
type Decoder struct {
	limits Limits

	pending     *Frame
	want        int
	attachments [][]byte
}

// Feed decodes one text packet. It returns a nil frame while a binary packet
// waits for its attachments.
//
// A text packet that arrives while attachments are still outstanding discards
// the unfinished packet and is decoded as the start of the next one: Feed then
// returns both the new frame (if complete) and a ProtocolError describing the
// discarded packet.
func (d *Decoder) Feed(text string) (*Frame, error) {
	var interrupted error
	if d.pending != nil {
		interrupted = &ProtocolError{
			Channel: d.pending.Channel,
			Reason:  fmt.Sprintf("binary packet interrupted after %d of %d attachments", len(d.attachments), d.want),
		}
		d.reset()
	}

	frame, want, err := d.parse(text)
	if err != nil {
		if interrupted != nil {
			return nil, errors.Join(interrupted, err)
		}
		return nil, err
	}

	if want > 0 {
		d.pending = frame
		d.want = want
		return nil, interrupted
	}

	return frame, interrupted
}

// FeedBinary adds one attachment to the binary packet being reconstructed.
func (d *Decoder) FeedBinary(data []byte) (*Frame, error) {
	if d.pending == nil {
		return nil, protocolErr("unexpected binary attachment", nil)
	}

	channel := d.pending.Channel
	if len(data) > d.limits.MaxBlobSize {
		d.reset()
		return nil, &ProtocolError{
			Channel: channel,
			Reason:  fmt.Sprintf("attachment of %d bytes exceeds %d", len(data), d.limits.MaxBlobSize),
		}
	}

	d.attachments = append(d.attachments, data)
	if len(d.attachments) < d.want {
		return nil, nil
	}

	frame := d.pending
	r := &reconstructor{limits: d.limits, attachments: d.attachments, resolve: true}
	d.reset()

	for i, arg := range frame.Args {
		v, err := r.walk(arg, 1)
		if err != nil {
			return nil, withChannel(err, channel)
		}
		frame.Args[i] = v
	}
	// Every attachment is referenced by exactly one placeholder.
	if r.seen != len(r.attachments) || len(r.used) != len(r.attachments) {
		return nil, &ProtocolError{
			Channel: channel,
			Reason: fmt.Sprintf("%d placeholders reference %d of %d attachments",
				r.seen, len(r.used), len(r.attachments)),
		}
	}

	return frame, nil
}

// Pending reports whether a binary packet is waiting for attachments.
func (d *Decoder) Pending() bool {
	return d.pending != nil
}

func (d *Decoder) reset() {
	d.pending = nil
	d.want = 0
	d.attachments = nil
}

func (d *Decoder) parse(data string) (*Frame, int, error) {
	if len(data) == 0 {
		return nil, 0, protocolErr("empty packet", nil)
	}

	pos := 0

	// Parse packet type
	if data[pos] < '0' || data[pos] > '6' {
		return nil, 0, protocolErr(fmt.Sprintf("invalid packet type %q", data[pos]), nil)
	}
	pt := packetType(data[pos] - '0')
	pos++

	// Parse attachment count
	attachments := 0
	if pt == packetTypeBinaryEvent || pt == packetTypeBinaryAck {
		end := pos
		for end < len(data) && isDigit(data[end]) {
			end++
		}
		if end == pos || end >= len(data) || data[end] != '-' {
			return nil, 0, protocolErr("missing attachment count", nil)
		}
		n, err := strconv.Atoi(data[pos:end])
		if err != nil || n > d.limits.MaxAttachments {
			return nil, 0, protocolErr(fmt.Sprintf("attachment count %s out of range", data[pos:end]), nil)
		}
		attachments = n
		pos = end + 1
	}

	// Parse channel
	channel := "/"
	if pos < len(data) && data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			channel = data[pos:]
			pos = len(data)
		} else {
			channel = data[pos : pos+end]
			pos += end + 1
		}
	}

	frame := &Frame{Channel: channel}

	// Parse ack ID
	if pos < len(data) && isDigit(data[pos]) {
		end := pos
		for end < len(data) && isDigit(data[end]) {
			end++
		}
		if end-pos > maxIDDigits {
			return nil, 0, &ProtocolError{Channel: channel, Reason: "call id out of range"}
		}
		id, _ := strconv.Atoi(data[pos:end])
		frame.ID = &id
		pos = end
	}

	// Parse data
	var payload any
	if pos < len(data) {
		if err := json.Unmarshal([]byte(data[pos:]), &payload); err != nil {
			return nil, 0, &ProtocolError{Channel: channel, Reason: "invalid packet data", Err: err}
		}
	}

	switch pt {
	case packetTypeConnect, packetTypeConnectError, packetTypeDisconnect:
		if frame.ID != nil {
			return nil, 0, &ProtocolError{Channel: channel, Reason: "call id on " + pt.String() + " packet"}
		}
		switch pt {
		case packetTypeConnect:
			frame.Kind = KindConnect
		case packetTypeConnectError:
			frame.Kind = KindConnectError
		default:
			frame.Kind = KindDisconnect
		}
		if pt != packetTypeDisconnect {
			frame.Data = payload
		}
		return frame, 0, nil

	case packetTypeEvent, packetTypeBinaryEvent:
		items, ok := payload.([]any)
		if !ok || len(items) == 0 {
			return nil, 0, &ProtocolError{Channel: channel, Reason: "event data must be a non-empty array"}
		}
		event, ok := items[0].(string)
		if !ok || event == "" {
			return nil, 0, &ProtocolError{Channel: channel, Reason: "event name must be a non-empty string"}
		}
		frame.Kind = KindEvent
		if frame.ID != nil {
			frame.Kind = KindCall
		}
		frame.Event = event
		frame.Args = argsOrNil(items[1:])

	case packetTypeAck, packetTypeBinaryAck:
		if frame.ID == nil {
			return nil, 0, &ProtocolError{Channel: channel, Reason: "ack packet without call id"}
		}
		items, ok := payload.([]any)
		if payload != nil && !ok {
			return nil, 0, &ProtocolError{Channel: channel, Reason: "ack data must be an array"}
		}
		frame.Kind = KindReply
		if replyErr, ok := decodeReplyError(items); ok && attachments == 0 {
			frame.Err = replyErr
		} else {
			frame.Args = argsOrNil(items)
		}
	}

	// Non-binary packets still get the depth check.
	if attachments == 0 {
		r := &reconstructor{limits: d.limits}
		for i, arg := range frame.Args {
			v, err := r.walk(arg, 1)
			if err != nil {
				return nil, 0, withChannel(err, channel)
			}
			frame.Args[i] = v
		}
	}

	return frame, attachments, nil
}

func argsOrNil(items []any) []any {
	if len(items) == 0 {
		return nil
	}
	return items
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func withChannel(err error, channel string) error {
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Channel == "" {
		perr.Channel = channel
	}
	return err
}
