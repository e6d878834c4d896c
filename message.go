package dbus

import (
	"bytes"
	"context"
	"errors"
	"os"

	"github.com/gopherbus/dbus/fragments"
)

// Message is a single DBus protocol message, either under
// construction for sending or just received off the wire. It owns
// the message header and body bytes.
//
// A Message's body can be set or read all at once with [Message.SetBody]
// / [Message.Body], or incrementally through a [MessageIterator]
// obtained from [Message.Writer] or [Message.Reader]. Only one
// iterator may be open on a Message at a time, and a given Message is
// either being written or having been received for reading, never
// both at once.
//
// Once a Message has been hand off to [Conn] for sending, or has been
// fully decoded after being received, call [Message.Freeze]. Further
// attempts to mutate a frozen Message return ErrFrozenMessage.
type Message struct {
	hdr   header
	body  []byte
	files []*os.File

	frozen     bool
	activeIter *MessageIterator
}

// NewMessage returns an empty Message of the given type. Most callers
// want one of the type-specific constructors below instead.
func NewMessage(t msgType) *Message {
	return &Message{hdr: header{Type: t, Version: 1}}
}

// NewMethodCall returns a Message requesting that destination invoke
// method on the interface offered at path.
func NewMethodCall(serial uint32, destination string, path ObjectPath, iface, method string) *Message {
	return &Message{hdr: header{
		Type:        msgTypeCall,
		Version:     1,
		Serial:      serial,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      method,
	}}
}

// NewMethodReturn returns a successful reply to the call with the
// given serial.
func NewMethodReturn(serial, replySerial uint32, destination string) *Message {
	return &Message{hdr: header{
		Type:        msgTypeReturn,
		Version:     1,
		Serial:      serial,
		Destination: destination,
		ReplySerial: replySerial,
	}}
}

// NewError returns a failing reply to the call with the given serial,
// naming errName as the cause.
func NewError(serial, replySerial uint32, destination, errName string) *Message {
	return &Message{hdr: header{
		Type:        msgTypeError,
		Version:     1,
		Serial:      serial,
		Destination: destination,
		ReplySerial: replySerial,
		ErrName:     errName,
	}}
}

// NewSignal returns a signal Message emitted by path.
func NewSignal(serial uint32, path ObjectPath, iface, member string) *Message {
	return &Message{hdr: header{
		Type:      msgTypeSignal,
		Version:   1,
		Serial:    serial,
		Path:      path,
		Interface: iface,
		Member:    member,
	}}
}

func (m *Message) Type() msgType       { return m.hdr.Type }
func (m *Message) Serial() uint32      { return m.hdr.Serial }
func (m *Message) ReplySerial() uint32 { return m.hdr.ReplySerial }
func (m *Message) Path() ObjectPath    { return m.hdr.Path }
func (m *Message) Interface() string   { return m.hdr.Interface }
func (m *Message) Member() string      { return m.hdr.Member }
func (m *Message) ErrName() string     { return m.hdr.ErrName }
func (m *Message) Destination() string { return m.hdr.Destination }
func (m *Message) Sender() string      { return m.hdr.Sender }
func (m *Message) Signature() Signature { return m.hdr.Signature }
func (m *Message) NumFDs() uint32      { return m.hdr.NumFDs }
func (m *Message) WantReply() bool     { return m.hdr.WantReply() }
func (m *Message) Files() []*os.File   { return m.files }

func (m *Message) checkMutable() error {
	if m.frozen {
		return ErrFrozenMessage
	}
	return nil
}

// SetFlags sets the message's flag byte.
func (m *Message) SetFlags(f byte) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	m.hdr.Flags = f
	return nil
}

// SetFiles attaches files to be sent as ancillary data alongside the
// message, recording their count in the header's NumFDs field.
func (m *Message) SetFiles(files []*os.File) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	m.files = files
	m.hdr.NumFDs = uint32(len(files))
	return nil
}

// SetBody replaces the message body with the DBus encoding of body,
// as understood by [Marshal], and updates the header's Length and
// Signature fields to match.
//
// SetBody is the convenience path for the common case of having one
// Go value that's already shaped like the whole body. Callers
// building a body up piece by piece (for example, skeleton property
// dispatch assembling a vardict) should use [Message.Writer] instead.
func (m *Message) SetBody(ctx context.Context, body any) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	if m.activeIter != nil {
		return errors.New("dbus: cannot set message body while a MessageIterator is open")
	}
	if body == nil {
		m.body = nil
		m.hdr.Length = 0
		m.hdr.Signature = Signature{}
		return nil
	}
	enc := &fragments.Encoder{Order: fragments.NativeEndian, Mapper: encoderMapper}
	if err := enc.Value(ctx, body); err != nil {
		return err
	}
	sig, err := SignatureOf(body)
	if err != nil {
		return err
	}
	m.body = enc.Out
	m.hdr.Length = uint32(len(enc.Out))
	m.hdr.Signature = sig.asMsgBody()
	return nil
}

// Body decodes the message body into v, which must be a non-nil
// pointer.
func (m *Message) Body(ctx context.Context, v any) error {
	if m.activeIter != nil {
		return errors.New("dbus: cannot decode message body while a MessageIterator is open")
	}
	dec := &fragments.Decoder{Order: fragments.NativeEndian, Mapper: decoderMapper, In: bytes.NewReader(m.body)}
	return dec.Value(ctx, v)
}

// decoder returns a raw body decoder using order, for callers (namely
// [Conn]) that already know the byte order a received message used.
func (m *Message) decoder(order fragments.ByteOrder) *fragments.Decoder {
	return &fragments.Decoder{
		Order:  order,
		Mapper: decoderMapper,
		In:     bytes.NewReader(m.body),
	}
}

// Writer returns a write cursor over the message body, for
// incremental construction. Only one iterator may be open on a
// Message at a time; calling Writer again before the first is closed
// with [MessageIterator.Close] or [MessageIterator.Abandon] panics.
func (m *Message) Writer(ctx context.Context) *MessageIterator {
	if err := m.checkMutable(); err != nil {
		panic(err)
	}
	if m.activeIter != nil {
		panic(errors.New("dbus: Message already has an open MessageIterator"))
	}
	it := &MessageIterator{
		ctx:   ctx,
		msg:   m,
		write: true,
		root:  &fragments.Encoder{Order: fragments.NativeEndian, Mapper: encoderMapper},
	}
	m.activeIter = it
	return it
}

// Reader returns a read cursor over the message body, for incremental
// consumption. Only one iterator may be open on a Message at a time.
func (m *Message) Reader(ctx context.Context) *MessageIterator {
	if m.activeIter != nil {
		panic(errors.New("dbus: Message already has an open MessageIterator"))
	}
	it := &MessageIterator{
		ctx:  ctx,
		msg:  m,
		dec:  m.decoder(fragments.NativeEndian),
	}
	m.activeIter = it
	return it
}

// Freeze marks the message immutable. Freeze is idempotent, and is
// always safe to call after a Message has been hand off to
// [Conn] for sending.
func (m *Message) Freeze() {
	m.frozen = true
}
