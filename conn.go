package dbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"net"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/mapset"
	"github.com/gopherbus/dbus/fragments"
	"github.com/gopherbus/dbus/transport"
)

const (
	ifaceBus   = "org.freedesktop.DBus"
	ifaceProps = "org.freedesktop.DBus.Properties"
)

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context) (*Conn, error) {
	return newConn(ctx, "/run/dbus/system_bus_socket")
}

// SessionBus connects to the current user's session bus.
func SessionBus(ctx context.Context) (*Conn, error) {
	path := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if path == "" {
		return nil, errors.New("session bus not available")
	}
	for _, uri := range strings.Split(path, ";") {
		addr, ok := strings.CutPrefix(uri, "unix:path=")
		if !ok {
			continue
		}
		return newConn(ctx, addr)
	}
	return nil, fmt.Errorf("could not find usable session bus address in DBUS_SESSION_BUS_ADDRESS value %q", path)
}

// Dial connects to the DBus server listening on the unix socket at
// path.
//
// Dial is primarily useful for connecting to non-standard buses, such
// as ones set up for testing. Most programs should use [SystemBus] or
// [SessionBus] instead.
func Dial(ctx context.Context, path string) (*Conn, error) {
	return newConn(ctx, path)
}

func newConn(ctx context.Context, path string) (*Conn, error) {
	t, err := transport.DialUnix(ctx, path)
	if err != nil {
		return nil, err
	}
	ret := &Conn{
		t: t,
		enc: fragments.Encoder{
			Order:  fragments.NativeEndian,
			Mapper: encoderMapper,
		},
		calls:   map[uint32]*PendingCall{},
		execute: func(f func()) { go f() },
	}
	ret.bus = ret.
		Peer("org.freedesktop.DBus").
		Object("/org/freedesktop/DBus")

	// A connection is immediately usable without the caller having to
	// think about dispatch: RunStandalone installs a plain background
	// driver. Callers who want cooperative or worker-pool dispatch
	// instead call AttachDriver with a dispatch.Loop or dispatch.Queue,
	// which swaps the standalone driver out.
	if err := ret.RunStandalone(context.Background()); err != nil {
		ret.t.Close()
		return nil, err
	}

	if err := ret.bus.Interface(ifaceBus).Call(ctx, "Hello", nil, &ret.clientID); err != nil {
		ret.Close()
		return nil, fmt.Errorf("getting DBus client ID: %w", err)
	}

	// Implement the Peer interface, on all objects.
	ret.Handle("org.freedesktop.DBus.Peer", "Ping", func(context.Context, ObjectPath) error {
		return nil
	})
	uuid := sync.OnceValues(func() (string, error) {
		bs, err := os.ReadFile("/etc/machine-id")
		if errors.Is(err, fs.ErrNotExist) {
			bs, err = os.ReadFile("/var/lib/dbus/machine-id")
		}
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bs)), nil
	})
	ret.Handle("org.freedesktop.DBus.Peer", "GetMachineId", func(context.Context, ObjectPath) (string, error) {
		return uuid()
	})

	return ret, nil
}

// Conn is a DBus connection.
type Conn struct {
	t        transport.Transport
	clientID string

	bus Object

	// Limits bounds the resources Dispatch will spend on a single
	// inbound message. The zero value uses conservative defaults; set
	// before the connection sees any traffic to change them.
	Limits Limits

	writeMu sync.Mutex
	enc     fragments.Encoder
	encHdr  []byte

	mu             sync.Mutex
	closed         bool
	calls          map[uint32]*PendingCall
	lastSerial     uint32
	watchers       mapset.Set[*Watcher]
	claims         mapset.Set[*Claim]
	pathHandlers   map[ObjectPath][]*handlerEntry
	globalHandlers []*handlerEntry
	driver         Driver
	execute        func(func())

	dispatching atomic.Bool
}

type interfaceMember struct {
	Interface string
	Member    string
}

func (im interfaceMember) String() string {
	return im.Interface + "." + im.Member
}

func (c *Conn) lockedWatchers() iter.Seq[*Watcher] {
	return func(yield func(*Watcher) bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		for w := range c.watchers {
			if !yield(w) {
				return
			}
		}
	}
}

// Close closes the DBus connection.
func (c *Conn) Close() error {
	var (
		pend map[uint32]*PendingCall
		ws   mapset.Set[*Watcher]
		cs   mapset.Set[*Claim]
		drv  Driver
	)
	{
		c.mu.Lock()
		c.closed = true
		pend, c.calls = c.calls, nil
		ws, c.watchers = c.watchers, nil
		cs, c.claims = c.claims, nil
		drv, c.driver = c.driver, nil
		c.mu.Unlock()
	}
	for _, p := range pend {
		p.complete(fmt.Errorf("%w: %w", ErrDisconnected, net.ErrClosed))
	}
	for w := range ws {
		w.Close()
	}
	for cl := range cs {
		cl.Close()
	}
	if drv != nil {
		drv.Stop()
	}
	return c.t.Close()
}

// LocalName returns the connection's unique bus name.
func (c *Conn) LocalName() string {
	return c.clientID
}

// Peer returns a Peer for the given bus name.
//
// The returned value is a purely local handle. It does not indicate
// that the requested peer exists, or that it is currently reachable.
func (c *Conn) Peer(name string) Peer {
	return Peer{
		c:    c,
		name: name,
	}
}

// writeMsg builds a [Message] from hdr and body and sends it. body
// may be nil for a message with no arguments.
func (c *Conn) writeMsg(ctx context.Context, hdr *header, body any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	m := &Message{hdr: *hdr}
	bodyCtx := withContextHeader(ctx, c, hdr)
	var files []*os.File
	bodyCtx = withContextPutFiles(bodyCtx, &files)
	if body != nil {
		if err := m.SetBody(bodyCtx, body); err != nil {
			return err
		}
	}
	m.hdr.NumFDs = uint32(len(files))
	if m.hdr.Length > c.Limits.maxMessageSize() {
		return ErrOutOfMemory
	}
	if uint32(len(files)) > c.Limits.maxMessageFDs() {
		return ErrOutOfMemory
	}
	m.Freeze()
	*hdr = m.hdr

	c.enc.Out = c.encHdr[:0]
	if err := c.enc.Value(ctx, &m.hdr); err != nil {
		return err
	}
	c.encHdr = c.enc.Out

	if _, err := c.t.WriteWithFiles(c.encHdr, files); err != nil {
		return err
	}
	if len(m.body) > 0 {
		if _, err := c.t.Write(m.body); err != nil {
			return err
		}
	}

	return nil
}

// errNeedMemory is returned internally by readMsg when a message's
// declared length exceeds c.Limits, so Dispatch can report
// StatusNeedMemory without treating it as a fatal transport error.
var errNeedMemory = errors.New("dbus: message exceeds configured limits")

type msg struct {
	header
	order fragments.ByteOrder
	body  []byte
	files []*os.File
}

func (m msg) Decoder() *fragments.Decoder {
	return &fragments.Decoder{
		Order:  m.order,
		Mapper: decoderMapper,
		In:     bytes.NewBuffer(m.body),
	}
}

// asMessage returns a frozen [Message] view of m, for callers (such
// as the proxy and skeleton packages) that want to use Message's
// iterator API to read an inbound message's body incrementally.
func (m *msg) asMessage() *Message {
	return &Message{hdr: m.header, body: m.body, files: m.files, frozen: true}
}

// readMsg reads one complete DBus message from c.t. Must not be
// called concurrently (Conn.Dispatch ensures this).
func (c *Conn) readMsg() (*msg, error) {
	dec := fragments.Decoder{
		Order:  fragments.NativeEndian,
		Mapper: decoderMapper,
		In:     c.t,
	}
	var ret msg
	err := dec.Value(context.Background(), &ret.header)
	if err != nil {
		return nil, err
	}
	if ret.header.Length > c.Limits.maxReceivedSize() {
		if _, err := io.CopyN(io.Discard, c.t, int64(ret.header.Length)); err != nil {
			return nil, err
		}
		return &ret, errNeedMemory
	}
	ret.body, err = io.ReadAll(io.LimitReader(c.t, int64(ret.header.Length)))
	if err != nil {
		return nil, err
	}
	ret.order = dec.Order
	if ret.header.NumFDs > c.Limits.maxReceivedFDs() {
		return &ret, errNeedMemory
	}
	ret.files, err = c.t.GetFiles(int(ret.header.NumFDs))
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

// Dispatch reads and processes at most one inbound message, blocking
// until one is available, ctx is done, or the connection fails.
//
// Dispatch is the seam that dispatch drivers (see the dispatch
// package) build on: a [Driver] repeatedly calls Dispatch from
// whatever scheduling policy it implements. Most callers don't call
// Dispatch directly; [Conn.RunStandalone] or [Conn.AttachDriver]
// cover the common cases.
//
// Dispatch must not be called concurrently with itself, and a path
// handler or signal callback running on c must not call it
// reentrantly: a reentrant call returns (StatusComplete, nil)
// immediately without touching the transport, rather than racing the
// driver's own in-flight read.
func (c *Conn) Dispatch(ctx context.Context) (Status, error) {
	if !c.dispatching.CompareAndSwap(false, true) {
		return StatusComplete, nil
	}
	defer c.dispatching.Store(false)

	msg, err := c.readMsg()
	if errors.Is(err, errNeedMemory) {
		return StatusNeedMemory, nil
	}
	if err != nil {
		return StatusComplete, err
	}
	if err := msg.Valid(); err != nil {
		return StatusComplete, fmt.Errorf("received invalid header: %w", err)
	}

	ctx = withContextHeader(ctx, c, &msg.header)
	if len(msg.files) > 0 {
		ctx = withContextFiles(ctx, msg.files)
	}

	var err2 error
	switch msg.Type {
	case msgTypeCall:
		c.executor()(func() { c.dispatchCall(ctx, msg) })
	case msgTypeReturn:
		err2 = c.dispatchReturn(ctx, msg)
	case msgTypeError:
		err2 = c.dispatchErr(msg)
	case msgTypeSignal:
		err2 = c.dispatchSignal(ctx, msg)
	}
	if err2 != nil {
		return StatusComplete, err2
	}
	if TransportBuffered(c) > 0 {
		return StatusDataRemains, nil
	}
	return StatusComplete, nil
}

func (c *Conn) dispatchCall(ctx context.Context, msg *msg) {
	chain := c.handlerChain(msg.Path)

	serial := func() uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lastSerial++
		return c.lastSerial
	}()

	respHdr := &header{
		Type:        msgTypeReturn,
		Version:     1,
		Serial:      serial,
		Destination: msg.Sender,
		ReplySerial: msg.Serial,
	}

	var (
		resp    any
		err     error
		handled bool
	)
	for _, entry := range chain {
		var result HandlerResult
		resp, result, err = entry.h(ctx, msg.Path, msg.Interface, msg.Member, msg.Decoder())
		if result == NotYet {
			continue
		}
		handled = true
		if result == NeedMemory && err == nil {
			err = ErrOutOfMemory
		}
		break
	}
	if !handled {
		err = fmt.Errorf("%w: %s", ErrUnknownMethod, interfaceMember{msg.Interface, msg.Member})
	}

	if err != nil {
		respHdr.Type = msgTypeError
		var re RemoteError
		text := err.Error()
		if errors.As(err, &re) {
			respHdr.ErrName = re.Name
			text = re.Text
		} else {
			respHdr.ErrName = RemoteErrNameFailed.Name
		}
		c.writeMsg(ctx, respHdr, text)
		return
	}
	c.writeMsg(ctx, respHdr, resp)
}

func (c *Conn) dispatchReturn(ctx context.Context, msg *msg) error {
	pending := func() *PendingCall {
		c.mu.Lock()
		defer c.mu.Unlock()
		ret := c.calls[msg.ReplySerial]
		delete(c.calls, msg.ReplySerial)
		return ret
	}()

	if pending == nil {
		// Response to a canceled call
		return nil
	}

	var err error
	if pending.resp != nil {
		err = msg.Decoder().Value(ctx, pending.resp)
	}
	pending.complete(err)
	return nil
}

func (c *Conn) dispatchErr(msg *msg) error {
	pending := func() *PendingCall {
		c.mu.Lock()
		defer c.mu.Unlock()
		ret := c.calls[msg.ReplySerial]
		delete(c.calls, msg.ReplySerial)
		return ret
	}()

	if pending == nil {
		// Response to a canceled call
		return nil
	}

	errStr := func() string {
		if msg.Signature.IsZero() {
			return ""
		}
		if s := msg.Signature.String(); s != "s" && !strings.HasPrefix(s, "(s") {
			return ""
		}
		errStr, err := msg.Decoder().String()
		if err != nil {
			return fmt.Sprintf("got error while decoding error detail: %v", err)
		}
		return errStr
	}()

	pending.complete(RemoteError{
		Name: msg.ErrName,
		Text: errStr,
	})
	return nil
}

func (c *Conn) dispatchSignal(ctx context.Context, msg *msg) error {
	var propErr error
	if msg.Interface == "org.freedesktop.DBus.Properties" && msg.Member == "PropertiesChanged" {
		propErr = c.dispatchPropChange(ctx, msg)
	}

	signalType := signalTypeFor(msg.Interface, msg.Member)
	if signalType == nil {
		signalType = msg.Signature.asStruct().Type()
	}
	if signalType == nil {
		signalType = reflect.TypeFor[struct{}]()
	}

	emitter, _ := ContextSender(ctx)

	signal := reflect.New(signalType)
	if err := msg.Decoder().Value(ctx, signal.Interface()); err != nil {
		return errors.Join(propErr, err)
	}

	for w := range c.lockedWatchers() {
		w.deliverSignal(emitter, &msg.header, signal)
	}

	return propErr
}

func (c *Conn) dispatchPropChange(ctx context.Context, msg *msg) error {
	// Make a copy of the body decoder, so that dispatchSignal can
	// still do the generic property change dispatch as well.
	body := msg.Decoder()

	iface, err := body.String()
	if err != nil {
		return err
	}

	emitter, _ := ContextSender(ctx)
	emitter = emitter.Object().Interface(iface)

	// Decode the change map[string]any by hand, so that we can
	// directly map each variant value to the correct property value
	// directly.
	_, err = body.Array(true, func(i int) error {
		err := body.Struct(func() error {
			propName, err := body.String()
			if err != nil {
				return err
			}
			var propSig Signature
			if err := body.Value(ctx, &propSig); err != nil {
				return err
			}
			t := propTypeFor(iface, propName)
			var v reflect.Value
			if t != nil {
				v = reflect.New(t)
			} else {
				v = reflect.New(propSig.Type())
			}
			if err := body.Value(ctx, v.Interface()); err != nil {
				return err
			}
			if t != nil {
				for w := range c.lockedWatchers() {
					w.deliverProp(emitter, &msg.header, interfaceMember{iface, propName}, v)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	var invalidated []string
	if err := body.Value(ctx, &invalidated); err != nil {
		return err
	}
	for _, prop := range invalidated {
		t := propTypeFor(iface, prop)
		if t == nil {
			continue
		}
		for w := range c.lockedWatchers() {
			w.deliverProp(emitter, &msg.header, interfaceMember{iface, prop}, reflect.New(t))
		}
	}
	return nil
}

// call calls a remote method over the bus and records the response in
// the provided pointer.
//
// It is the caller's responsibility to supply the correct types of
// request.Body and response for the method being called.
func (c *Conn) call(ctx context.Context, destination string, path ObjectPath, iface, method string, body any, response any, opts ...CallOption) error {
	if response != nil && reflect.TypeOf(response).Kind() != reflect.Pointer {
		return errors.New("response parameter in Call must be a pointer, or nil")
	}
	co := applyCallOpts(opts)

	serial, pending := func() (uint32, *PendingCall) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return 0, nil
		}

		c.lastSerial++
		pend := newPendingCall(response)
		c.calls[c.lastSerial] = pend
		return c.lastSerial, pend
	}()
	if pending == nil {
		return fmt.Errorf("%w: %w", ErrDisconnected, net.ErrClosed)
	}
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.calls[serial] == pending {
			delete(c.calls, serial)
		}
	}()

	hdr := header{
		Type:        msgTypeCall,
		Flags:       co.flags,
		Version:     1,
		Serial:      serial,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      method,
	}
	if err := hdr.Valid(); err != nil {
		return err
	}

	if err := c.writeMsg(context.Background(), &hdr, body); err != nil {
		return err // TODO: close transport?
	}

	if !hdr.WantReply() {
		return nil
	}

	if d, ok := co.timeout.duration(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return pending.Block(ctx)
}

// EmitSignal broadcasts signal from obj.
//
// The signal's type must be registered in advance with
// [RegisterSignalType].
func (c *Conn) EmitSignal(ctx context.Context, obj ObjectPath, signal any) error {
	t := reflect.TypeOf(signal)
	k, ok := signalNameFor(t)
	if !ok {
		return fmt.Errorf("unknown signal type %s", t)
	}
	serial := func() uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return 0
		}
		c.lastSerial++
		return c.lastSerial
	}()
	hdr := header{
		Type:      msgTypeSignal,
		Version:   1,
		Serial:    serial,
		Path:      obj,
		Interface: k.Interface,
		Member:    k.Member,
	}
	return c.writeMsg(ctx, &hdr, signal)
}
