package dbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/gopherbus/dbus/fragments"
)

type containerKind int

const (
	containerArray containerKind = iota
	containerStruct
)

// MessageIterator is a cursor over a [Message] body.
//
// An iterator is either a read cursor or a write cursor, never
// both, and at most one iterator may be open on a given Message at a
// time (enforced by [Message.Writer] / [Message.Reader] panicking if
// one is already open). This mirrors DBus's own container framing,
// where a value is always either being produced or consumed, never
// both, and never from two places at once.
type MessageIterator struct {
	ctx   context.Context
	msg   *Message
	write bool

	// write side. root is the encoder shared by every iterator
	// descended from the same Message.Writer call; pending holds
	// thunks that write into root, queued in document order and only
	// executed once this iterator (or an ancestor of it) closes.
	root    *fragments.Encoder
	pending []func() error

	// Append/CloseContainer record the signature of each value added
	// to this iterator, in order, to build the iterator's own
	// signature once it closes. Array iterators instead track a
	// single elemSig that every element must match.
	fieldSigs []Signature
	elemSig   Signature
	kind      containerKind
	parent    *MessageIterator

	// read side: shared with every iterator descended from the same
	// Message.Reader call, since [fragments.Decoder.Array] and
	// [fragments.Decoder.Struct] already manage input framing
	// internally.
	dec *fragments.Decoder

	closed    bool
	abandoned bool
}

func (it *MessageIterator) checkLive() {
	if it.closed {
		panic(errors.New("dbus: use of a closed MessageIterator"))
	}
	if it.abandoned {
		panic(errors.New("dbus: use of an abandoned MessageIterator"))
	}
}

// Get decodes the next value off a read iterator into v, which must
// be a non-nil pointer.
func (it *MessageIterator) Get(v any) error {
	it.checkLive()
	if it.write {
		return errors.New("dbus: Get called on a write MessageIterator")
	}
	return it.dec.Value(it.ctx, v)
}

// Recurse reads into a nested container on a read iterator.
//
// For a struct, fn is invoked exactly once, with a child iterator
// scoped to the struct's fields. For an array, fn is invoked once per
// element, with a child iterator that yields exactly that element via
// Get; containsStructs must be true if the array's elements are
// structs, so the decoder can correctly pad an empty array's header.
// Recurse returns the number of elements processed (always 1 for a
// struct).
func (it *MessageIterator) Recurse(isStruct, containsStructs bool, fn func(child *MessageIterator) error) (n int, err error) {
	it.checkLive()
	if it.write {
		return 0, errors.New("dbus: Recurse called on a write MessageIterator")
	}
	child := &MessageIterator{ctx: it.ctx, msg: it.msg, dec: it.dec}
	if isStruct {
		err = it.dec.Struct(func() error { return fn(child) })
		return 1, err
	}
	return it.dec.Array(containsStructs, func(int) error { return fn(child) })
}

// Append queues v to be written next in this iterator's container
// (or the message body, for the top-level iterator returned by
// [Message.Writer]).
func (it *MessageIterator) Append(v any) error {
	it.checkLive()
	if !it.write {
		return errors.New("dbus: Append called on a read MessageIterator")
	}
	sig, err := SignatureOf(v)
	if err != nil {
		return err
	}
	if err := it.recordSignature(sig); err != nil {
		return err
	}
	it.pending = append(it.pending, func() error { return it.root.Value(it.ctx, v) })
	return nil
}

// recordSignature folds sig into this iterator's running signature:
// for an array, every element (and the array's own declared elemSig,
// if OpenArray was given one) must agree; for a struct or the
// top-level body, signatures are simply concatenated in order.
func (it *MessageIterator) recordSignature(sig Signature) error {
	if it.kind == containerArray {
		if it.elemSig.IsZero() {
			it.elemSig = sig
		} else if it.elemSig.String() != sig.String() {
			return fmt.Errorf("%w: array element has signature %q, want %q", ErrInvalidSignature, sig.String(), it.elemSig.String())
		}
		return nil
	}
	it.fieldSigs = append(it.fieldSigs, sig)
	return nil
}

// OpenArray begins a nested array container on a write iterator, and
// returns an iterator scoped to the array's elements.
//
// elemSig declares the array's element signature; pass the zero
// Signature to infer it from the first appended element. An array
// that ends up empty with no declared elemSig cannot be encoded,
// since DBus arrays must carry an element signature even when empty.
func (it *MessageIterator) OpenArray(elemSig Signature) (*MessageIterator, error) {
	it.checkLive()
	if !it.write {
		return nil, errors.New("dbus: OpenArray called on a read MessageIterator")
	}
	return &MessageIterator{
		ctx:     it.ctx,
		msg:     it.msg,
		write:   true,
		root:    it.root,
		parent:  it,
		kind:    containerArray,
		elemSig: elemSig,
	}, nil
}

// OpenStruct begins a nested struct container on a write iterator,
// and returns an iterator scoped to the struct's fields.
func (it *MessageIterator) OpenStruct() (*MessageIterator, error) {
	it.checkLive()
	if !it.write {
		return nil, errors.New("dbus: OpenStruct called on a read MessageIterator")
	}
	return &MessageIterator{
		ctx:    it.ctx,
		msg:    it.msg,
		write:  true,
		root:   it.root,
		parent: it,
		kind:   containerStruct,
	}, nil
}

// CloseContainer finishes a container iterator opened with OpenArray
// or OpenStruct, queuing its accumulated contents for writing at the
// position the Open call was made, and folding its signature into the
// parent. The child iterator is dead after this call; continue
// writing through the iterator the Open call was made on.
func (it *MessageIterator) CloseContainer() error {
	it.checkLive()
	if it.parent == nil {
		return errors.New("dbus: CloseContainer called on a top-level MessageIterator, use Close")
	}
	it.closed = true
	parent := it.parent
	elems := it.pending

	run := func() error {
		for _, e := range elems {
			if err := e(); err != nil {
				return err
			}
		}
		return nil
	}

	var sig Signature
	switch it.kind {
	case containerArray:
		if it.elemSig.IsZero() {
			return fmt.Errorf("%w: empty array with no declared element signature", ErrInvalidSignature)
		}
		containsStructs := it.elemSig.Type() != nil && it.elemSig.Type().Kind() == reflect.Struct
		sig = mkSignature(reflect.SliceOf(it.elemSig.Type()), "a"+it.elemSig.String())
		parent.pending = append(parent.pending, func() error {
			return parent.root.Array(containsStructs, run)
		})
	case containerStruct:
		sig = structSignature(it.fieldSigs)
		parent.pending = append(parent.pending, func() error {
			return parent.root.Struct(run)
		})
	}

	return parent.recordSignature(sig)
}

func structSignature(fieldSigs []Signature) Signature {
	fields := make([]reflect.StructField, len(fieldSigs))
	str := "("
	for i, s := range fieldSigs {
		fields[i] = reflect.StructField{Name: fmt.Sprintf("Field%d", i), Type: s.Type()}
		str += s.String()
	}
	str += ")"
	return mkSignature(reflect.StructOf(fields), str)
}

// Close finalizes a top-level iterator.
//
// On a write iterator, Close encodes everything appended through it
// (and any nested containers already closed into it) into the owning
// Message's body, and updates the Message's Length and Signature
// header fields to match. On a read iterator, Close simply releases
// the Message for a new iterator to be opened.
//
// Close on a container iterator (one returned by OpenArray or
// OpenStruct) is an error; use [MessageIterator.CloseContainer]
// instead.
func (it *MessageIterator) Close() error {
	it.checkLive()
	if it.parent != nil {
		return errors.New("dbus: Close called on a container iterator, use CloseContainer")
	}
	it.closed = true
	if it.msg != nil && it.msg.activeIter == it {
		it.msg.activeIter = nil
	}
	if !it.write {
		return nil
	}
	for _, e := range it.pending {
		if err := e(); err != nil {
			return err
		}
	}
	if it.msg != nil {
		if len(it.fieldSigs) == 0 {
			it.msg.hdr.Signature = Signature{}
			it.msg.hdr.Length = 0
			it.msg.body = nil
		} else {
			sig := structSignature(it.fieldSigs)
			it.msg.hdr.Signature = sig.asMsgBody()
			it.msg.hdr.Length = uint32(len(it.root.Out))
			it.msg.body = it.root.Out
		}
	}
	return nil
}

// Abandon discards this iterator without writing anything it
// buffered (for a write iterator) or advancing the owning Message's
// read state any further than the underlying container framing
// already has (for a read iterator). Using the iterator again after
// Abandon panics.
func (it *MessageIterator) Abandon() {
	it.abandoned = true
	if it.parent == nil && it.msg != nil && it.msg.activeIter == it {
		it.msg.activeIter = nil
	}
}
