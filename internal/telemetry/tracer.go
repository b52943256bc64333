package telemetry

import (
	"context"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. SMB keys follow the smb.* prefix, NetBIOS the nbns.* prefix.
const (
	AttrClientAddr = "client.address"

	AttrSMBCommand   = "smb.command"
	AttrSMBMessageID = "smb.message_id"
	AttrSMBSessionID = "smb.session_id"
	AttrSMBTreeID    = "smb.tree_id"
	AttrSMBShare     = "smb.share"
	AttrSMBStatus    = "smb.status"

	AttrRPCInterface = "rpc.interface"
	AttrRPCOpnum     = "rpc.opnum"

	AttrNBName   = "nbns.name"
	AttrNBType   = "nbns.type"
	AttrNBStatus = "nbns.status"

	AttrUsername = "user.name"
	AttrDomain   = "user.domain"

	AttrDeviceDriver = "device.driver"
	AttrBucket       = "storage.bucket"
)

// Span names.
const (
	SpanSMBRequest    = "smb.request"
	SpanTreeConnect   = "smb.TREE_CONNECT"
	SpanTreeDisconnect = "smb.TREE_DISCONNECT"
	SpanSessionClose  = "smb.session.close"
	SpanNameAdd       = "nbns.add"
	SpanNameQuery     = "nbns.query"
	SpanNameRefresh   = "nbns.refresh"
)

func ClientAddr(addr net.Addr) attribute.KeyValue {
	if addr == nil {
		return attribute.String(AttrClientAddr, "")
	}
	return attribute.String(AttrClientAddr, addr.String())
}

func SMBCommand(name string) attribute.KeyValue { return attribute.String(AttrSMBCommand, name) }

func SMBMessageID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrSMBMessageID, int64(id))
}

func SessionID(id uint64) attribute.KeyValue { return attribute.Int64(AttrSMBSessionID, int64(id)) }

func TreeID(id uint32) attribute.KeyValue { return attribute.Int64(AttrSMBTreeID, int64(id)) }

func Share(name string) attribute.KeyValue { return attribute.String(AttrSMBShare, name) }

func SMBStatus(status uint32) attribute.KeyValue {
	return attribute.Int64(AttrSMBStatus, int64(status))
}

func NetBIOSName(name string, typ byte) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrNBName, name),
		attribute.Int(AttrNBType, int(typ)),
	}
}

func NameStatus(s string) attribute.KeyValue { return attribute.String(AttrNBStatus, s) }

func Username(name string) attribute.KeyValue { return attribute.String(AttrUsername, name) }

func Domain(name string) attribute.KeyValue { return attribute.String(AttrDomain, name) }

func DeviceDriver(name string) attribute.KeyValue {
	return attribute.String(AttrDeviceDriver, name)
}

func Bucket(name string) attribute.KeyValue { return attribute.String(AttrBucket, name) }

// StartSMBSpan starts a span for one SMB2 command.
func StartSMBSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{SMBCommand(command)}, attrs...)
	return StartSpan(ctx, "smb."+command, trace.WithAttributes(all...), trace.WithSpanKind(trace.SpanKindServer))
}

// StartRPCSpan starts a span for one DCE/RPC call on a named pipe.
func StartRPCSpan(ctx context.Context, iface string, opnum uint16) (context.Context, trace.Span) {
	return StartSpan(ctx, "rpc."+iface,
		trace.WithAttributes(
			attribute.String(AttrRPCInterface, iface),
			attribute.Int(AttrRPCOpnum, int(opnum)),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartNameSpan starts a span for a NetBIOS name service operation.
func StartNameSpan(ctx context.Context, op, name string, typ byte) (context.Context, trace.Span) {
	return StartSpan(ctx, op, trace.WithAttributes(NetBIOSName(name, typ)...))
}
