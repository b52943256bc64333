// Package wire provides error-accumulating binary readers and writers shared
// by the SMB2, NetBIOS and DCE/RPC codecs.
//
// Callers perform a sequence of reads or writes and check Err once at the
// end. After the first failure every further call is a no-op that returns
// the zero value:
//
//	r := wire.NewReader(data, binary.BigEndian)
//	trnID := r.Uint16()
//	flags := r.Uint16()
//	if err := r.Err(); err != nil {
//	    return err
//	}
//
// SMB2 and NDR are little-endian; the NetBIOS name service and session
// framing are big-endian. The byte order is fixed per Reader/Writer.
package wire
