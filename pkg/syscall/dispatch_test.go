package syscall

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *proc.Viper {
	return proc.NewViper(1, "test", nil, nil)
}

func TestDispatchChannelCreateSendRecvRoundTrip(t *testing.T) {
	k := NewKernel(nil)
	v := newTestViper()
	ctx := context.Background()
	task, err := v.SpawnTask("main")
	require.NoError(t, err)

	res := k.Dispatch(ctx, v, task, ChannelCreate, Args{Arg0: 4, BufOffset: 0})
	require.NoError(t, res.Err)

	hdrBuf, err := v.Addr.Read(0, 8)
	require.NoError(t, err)
	sendHandle := cap.Handle(binary.LittleEndian.Uint32(hdrBuf[0:4]))
	recvHandle := cap.Handle(binary.LittleEndian.Uint32(hdrBuf[4:8]))

	payloadOffset := int64(64)
	require.NoError(t, v.Addr.Write(payloadOffset, []byte("hello")))

	sendRes := k.Dispatch(ctx, v, task, ChannelSend, Args{
		Arg0: int64(sendHandle), BufOffset: payloadOffset, BufLen: 5,
	})
	require.NoError(t, sendRes.Err)

	recvRes := k.Dispatch(ctx, v, task, ChannelRecv, Args{
		Arg0: int64(recvHandle), BufOffset: 128, BufLen: 16,
	})
	require.NoError(t, recvRes.Err)
	assert.Equal(t, int64(5), recvRes.Value)

	got, err := v.Addr.Read(128, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestDispatchChannelSendRejectsWrongRights(t *testing.T) {
	k := NewKernel(nil)
	v := newTestViper()
	ctx := context.Background()
	task, _ := v.SpawnTask("main")

	k.Dispatch(ctx, v, task, ChannelCreate, Args{Arg0: 4})
	hdrBuf, _ := v.Addr.Read(0, 8)
	recvHandle := cap.Handle(binary.LittleEndian.Uint32(hdrBuf[4:8]))

	res := k.Dispatch(ctx, v, task, ChannelSend, Args{Arg0: int64(recvHandle), BufLen: 1})
	assert.Equal(t, common.ErrInvalidHandle, res.Err, "a recv-only handle must not authorize send")
}

func TestDispatchCapDeriveNarrowsAndRevokeCascades(t *testing.T) {
	k := NewKernel(nil)
	v := newTestViper()
	ctx := context.Background()
	task, _ := v.SpawnTask("main")

	k.Dispatch(ctx, v, task, ChannelCreate, Args{Arg0: 4})
	hdrBuf, _ := v.Addr.Read(0, 8)
	sendHandle := cap.Handle(binary.LittleEndian.Uint32(hdrBuf[0:4]))

	deriveRes := k.Dispatch(ctx, v, task, CapDerive, Args{
		Arg0: int64(sendHandle), Arg1: int64(cap.Write),
	})
	require.NoError(t, deriveRes.Err)
	child := cap.Handle(deriveRes.Handle)

	queryRes := k.Dispatch(ctx, v, task, CapQuery, Args{Arg0: int64(child)})
	require.NoError(t, queryRes.Err)
	assert.Equal(t, int64(cap.Write), queryRes.Value)

	revokeRes := k.Dispatch(ctx, v, task, CapRevoke, Args{Arg0: int64(sendHandle)})
	require.NoError(t, revokeRes.Err)
	assert.GreaterOrEqual(t, revokeRes.Value, int64(2))

	assert.Nil(t, v.Caps.Get(child), "revoking the parent must also revoke the derived child")
}

func TestDispatchSysinfoMemInfo(t *testing.T) {
	k := NewKernel(nil)
	v := newTestViper()
	ctx := context.Background()
	task, _ := v.SpawnTask("main")

	require.NoError(t, v.SetRlimit(proc.LimitMemory, proc.DefaultMemoryLimit))
	res := k.Dispatch(ctx, v, task, MemInfo, Args{BufOffset: 256, BufLen: 56})
	require.NoError(t, res.Err)

	buf, err := v.Addr.Read(256, 56)
	require.NoError(t, err)
	pageSize := binary.LittleEndian.Uint64(buf[48:56])
	assert.Equal(t, uint64(4096), pageSize)
}

func TestDispatchUnknownSyscallReturnsNotSupported(t *testing.T) {
	k := NewKernel(nil)
	v := newTestViper()
	task, _ := v.SpawnTask("main")

	res := k.Dispatch(context.Background(), v, task, Number(9999), Args{})
	assert.Equal(t, common.ErrNotSupported, res.Err)
}

func TestDispatchSetsidAndGetsid(t *testing.T) {
	k := NewKernel(nil)
	v := newTestViper()
	task, _ := v.SpawnTask("main")
	ctx := context.Background()

	res := k.Dispatch(ctx, v, task, Setsid, Args{})
	require.NoError(t, res.Err)

	res = k.Dispatch(ctx, v, task, Getsid, Args{})
	assert.Equal(t, int64(v.ID()), res.Value)
}
