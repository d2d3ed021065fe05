package syscall

import (
	"context"
	"encoding/binary"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/ipc"
	"github.com/splanck/viperdos/pkg/proc"
)

// channelCreate allocates a channel and inserts both its SEND and RECV
// capabilities into the caller's table, writing the two handles back to
// the caller's buffer as consecutive little-endian uint32s (spec §4.4
// create()).
func (k *Kernel) channelCreate(v *proc.Viper, args Args) Result {
	capacity := int(args.Arg0)
	ch := ipc.NewChannel(capacity)

	sendHandle := v.Caps.Insert(ch, cap.KindChannel, cap.Write|cap.Transfer|cap.Derive)
	if sendHandle == cap.Invalid {
		return Result{Err: cap.ErrFull}
	}
	ch.Ref()
	recvHandle := v.Caps.Insert(ch, cap.KindChannel, cap.Read|cap.Transfer|cap.Derive)
	if recvHandle == cap.Invalid {
		v.Caps.Remove(sendHandle)
		ch.Unref()
		return Result{Err: cap.ErrFull}
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(sendHandle))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(recvHandle))
	if err := v.Addr.Write(args.BufOffset, buf); err != nil {
		return Result{Err: err}
	}
	return Result{}
}

// resolveChannel looks up handle in v's table, requiring kind Channel and
// every bit of required, per the syscall boundary's "kind and rights
// checked on every handle dereference" rule (spec §4.2, §7).
func resolveChannel(v *proc.Viper, handle cap.Handle, required cap.Rights) (*ipc.Channel, error) {
	e := v.Caps.GetWithRights(handle, cap.KindChannel, required)
	if e == nil {
		return nil, common.ErrInvalidHandle
	}
	ch, ok := e.Object().(*ipc.Channel)
	if !ok {
		return nil, common.ErrInvalidHandle
	}
	return ch, nil
}

// readHandleBuffer reads count little-endian uint32 handles out of the
// caller's AddressSpace starting at offset (spec §4.4.2 try_send()'s
// `handles` array).
func readHandleBuffer(v *proc.Viper, offset, count int64) ([]cap.Handle, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := v.Addr.Read(offset, count*4)
	if err != nil {
		return nil, err
	}
	out := make([]cap.Handle, count)
	for i := range out {
		out[i] = cap.Handle(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return out, nil
}

// writeHandleBuffer writes handles into the caller's AddressSpace as
// consecutive little-endian uint32s starting at offset (spec §4.4.3
// try_recv()'s `out_handles` array).
func writeHandleBuffer(v *proc.Viper, offset int64, handles []cap.Handle) error {
	if len(handles) == 0 {
		return nil
	}
	buf := make([]byte, len(handles)*4)
	for i, h := range handles {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], uint32(h))
	}
	return v.Addr.Write(offset, buf)
}

// takeTransferHandles captures handles out of the sender's capability
// table for in-band transfer. A handle that doesn't resolve or lacks
// CAP_TRANSFER is skipped, not an error: transfer is best-effort per slot
// (spec §4.4.2 try_send()).
func takeTransferHandles(v *proc.Viper, handles []cap.Handle) []ipc.TransferredHandle {
	var out []ipc.TransferredHandle
	for _, h := range handles {
		object, kind, rights, ok := v.Caps.Take(h, cap.Transfer)
		if !ok {
			continue
		}
		out = append(out, ipc.TransferredHandle{Object: object, Kind: kind, Rights: rights})
	}
	return out
}

// depositTransferHandles inserts each transferred handle into the
// receiver's capability table, with rights masked against the receiver's
// capability bounding set, and returns the freshly allocated handle
// values in order. A slot that cannot be inserted is dropped rather than
// failing the whole recv (spec §4.4.3 try_recv(), §7 "partial handle
// transfer"). Dropped slots are not logged here; the original logs at the
// channel layer, which this hosted build has no equivalent sink for yet.
func depositTransferHandles(v *proc.Viper, transferred []ipc.TransferredHandle) []cap.Handle {
	if len(transferred) == 0 {
		return nil
	}
	bound := v.GetCapBoundingSet()
	out := make([]cap.Handle, 0, len(transferred))
	for _, th := range transferred {
		h := v.Caps.Insert(th.Object, th.Kind, th.Rights.Intersect(bound))
		if h == cap.Invalid {
			continue
		}
		out = append(out, h)
	}
	return out
}

// channelSend copies the caller's buffer out of their AddressSpace,
// captures any handles to transfer, and blocks (respecting ctx) until the
// message is enqueued or the recv end closes (spec §4.4 send(), §4.4.2
// try_send()).
func (k *Kernel) channelSend(ctx context.Context, v *proc.Viper, args Args) Result {
	handle := cap.Handle(args.Arg0)
	ch, err := resolveChannel(v, handle, cap.Write)
	if err != nil {
		return Result{Err: err}
	}
	if args.BufLen > ipc.MaxMessageSize {
		return Result{Err: common.ErrMsgTooLarge}
	}
	if args.HandleCount > ipc.MaxTransferHandles {
		return Result{Err: common.ErrInvalidArg}
	}

	data, err := v.Addr.Read(args.BufOffset, args.BufLen)
	if err != nil {
		return Result{Err: err}
	}
	inHandles, err := readHandleBuffer(v, args.HandleBufOffset, args.HandleCount)
	if err != nil {
		return Result{Err: err}
	}
	transferred := takeTransferHandles(v, inHandles)

	if err := ch.Send(ctx, ipc.Message{Data: data, Handles: transferred}); err != nil {
		return Result{Err: err}
	}
	return Result{}
}

// channelTrySend is the non-blocking counterpart to channelSend: it fails
// with ErrWouldBlock instead of blocking when the queue is full (spec
// §4.4.2 try_send()).
func (k *Kernel) channelTrySend(v *proc.Viper, args Args) Result {
	handle := cap.Handle(args.Arg0)
	ch, err := resolveChannel(v, handle, cap.Write)
	if err != nil {
		return Result{Err: err}
	}
	if args.BufLen > ipc.MaxMessageSize {
		return Result{Err: common.ErrMsgTooLarge}
	}
	if args.HandleCount > ipc.MaxTransferHandles {
		return Result{Err: common.ErrInvalidArg}
	}

	data, err := v.Addr.Read(args.BufOffset, args.BufLen)
	if err != nil {
		return Result{Err: err}
	}
	inHandles, err := readHandleBuffer(v, args.HandleBufOffset, args.HandleCount)
	if err != nil {
		return Result{Err: err}
	}
	transferred := takeTransferHandles(v, inHandles)

	if err := ch.TrySend(ipc.Message{Data: data, Handles: transferred}); err != nil {
		return Result{Err: err}
	}
	return Result{}
}

// channelRecv blocks until a message is available, then copies it into
// the caller's buffer and deposits any transferred handles into the
// caller's capability table, failing with ErrMsgTooLarge if the payload
// doesn't fit (spec §4.4 recv(), §4.4.3 try_recv()).
func (k *Kernel) channelRecv(ctx context.Context, v *proc.Viper, args Args) Result {
	handle := cap.Handle(args.Arg0)
	ch, err := resolveChannel(v, handle, cap.Read)
	if err != nil {
		return Result{Err: err}
	}

	msg, err := ch.Recv(ctx)
	if err != nil {
		return Result{Err: err}
	}
	if int64(len(msg.Data)) > args.BufLen {
		return Result{Err: common.ErrMsgTooLarge}
	}
	if err := v.Addr.Write(args.BufOffset, msg.Data); err != nil {
		return Result{Err: err}
	}
	handles := depositTransferHandles(v, msg.Handles)
	if err := writeHandleBuffer(v, args.HandleBufOffset, handles); err != nil {
		return Result{Err: err}
	}
	return Result{Value: int64(len(msg.Data)), HandleCount: int64(len(handles))}
}

// channelTryRecv is the non-blocking counterpart to channelRecv: it fails
// with ErrWouldBlock instead of blocking when nothing is queued (spec
// §4.4.3 try_recv()).
func (k *Kernel) channelTryRecv(v *proc.Viper, args Args) Result {
	handle := cap.Handle(args.Arg0)
	ch, err := resolveChannel(v, handle, cap.Read)
	if err != nil {
		return Result{Err: err}
	}

	msg, err := ch.TryRecv()
	if err != nil {
		return Result{Err: err}
	}
	if int64(len(msg.Data)) > args.BufLen {
		return Result{Err: common.ErrMsgTooLarge}
	}
	if err := v.Addr.Write(args.BufOffset, msg.Data); err != nil {
		return Result{Err: err}
	}
	handles := depositTransferHandles(v, msg.Handles)
	if err := writeHandleBuffer(v, args.HandleBufOffset, handles); err != nil {
		return Result{Err: err}
	}
	return Result{Value: int64(len(msg.Data)), HandleCount: int64(len(handles))}
}

// channelClose closes the given end of the channel and removes the
// handle from the caller's table (spec §4.4 close_endpoint()).
func (k *Kernel) channelClose(v *proc.Viper, args Args) Result {
	handle := cap.Handle(args.Arg0)
	e := v.Caps.Get(handle)
	if e == nil || e.Kind() != cap.KindChannel {
		return Result{Err: common.ErrInvalidHandle}
	}
	ch, ok := e.Object().(*ipc.Channel)
	if !ok {
		return Result{Err: common.ErrInvalidHandle}
	}
	isSend := e.Rights().Has(cap.Write)
	v.Caps.Remove(handle)
	ch.CloseEnd(isSend)
	return Result{}
}
