package ndmp9

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ndmpd/ndmpd/internal/protocol/xdr"
)

// EncodePval writes a canonical name/value pair using the generic XDR
// string encoder, reused directly rather than hand-rolled since a pval is
// just two consecutive XDR strings.
func EncodePval(buf *bytes.Buffer, p Pval) error {
	if err := xdr.WriteXDRString(buf, p.Name); err != nil {
		return fmt.Errorf("ndmp9: encode pval name: %w", err)
	}
	if err := xdr.WriteXDRString(buf, p.Value); err != nil {
		return fmt.Errorf("ndmp9: encode pval value: %w", err)
	}
	return nil
}

// DecodePval reads a canonical name/value pair.
func DecodePval(r io.Reader) (Pval, error) {
	name, err := xdr.DecodeString(r)
	if err != nil {
		return Pval{}, fmt.Errorf("ndmp9: decode pval name: %w", err)
	}
	value, err := xdr.DecodeString(r)
	if err != nil {
		return Pval{}, fmt.Errorf("ndmp9: decode pval value: %w", err)
	}
	return Pval{Name: name, Value: value}, nil
}

// EncodePvals writes an XDR variable-length array of pvals.
func EncodePvals(buf *bytes.Buffer, pvals []Pval) error {
	if err := xdr.WriteUint32(buf, uint32(len(pvals))); err != nil {
		return err
	}
	for _, p := range pvals {
		if err := EncodePval(buf, p); err != nil {
			return err
		}
	}
	return nil
}

// DecodePvals reads an XDR variable-length array of pvals.
func DecodePvals(r io.Reader) ([]Pval, error) {
	n, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("ndmp9: decode pvals length: %w", err)
	}
	pvals := make([]Pval, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := DecodePval(r)
		if err != nil {
			return nil, fmt.Errorf("ndmp9: decode pvals[%d]: %w", i, err)
		}
		pvals = append(pvals, p)
	}
	return pvals, nil
}

// EncodeAddr writes a canonical image-stream address: a union discriminated
// by AddrType, following the same encode-discriminant-then-arm pattern as
// the generic xdr.EncodeUnionDiscriminant helper.
func EncodeAddr(buf *bytes.Buffer, a Addr) error {
	if err := xdr.EncodeUnionDiscriminant(buf, uint32(a.Type)); err != nil {
		return err
	}
	if a.Type != AddrTCP {
		return nil
	}
	if err := xdr.WriteUint32(buf, uint32(len(a.TCP))); err != nil {
		return err
	}
	for _, t := range a.TCP {
		if err := xdr.WriteUint32(buf, t.IPAddr); err != nil {
			return err
		}
		if err := xdr.WriteUint32(buf, uint32(t.Port)); err != nil {
			return err
		}
	}
	return nil
}

// DecodeAddr reads a canonical image-stream address.
func DecodeAddr(r io.Reader) (Addr, error) {
	disc, err := xdr.DecodeUnionDiscriminant(r)
	if err != nil {
		return Addr{}, fmt.Errorf("ndmp9: decode addr discriminant: %w", err)
	}
	a := Addr{Type: AddrType(disc)}
	if a.Type != AddrTCP {
		return a, nil
	}
	n, err := xdr.DecodeUint32(r)
	if err != nil {
		return Addr{}, fmt.Errorf("ndmp9: decode addr tcp count: %w", err)
	}
	a.TCP = make([]TCPAddr, 0, n)
	for i := uint32(0); i < n; i++ {
		ip, err := xdr.DecodeUint32(r)
		if err != nil {
			return Addr{}, fmt.Errorf("ndmp9: decode addr[%d] ip: %w", i, err)
		}
		port, err := xdr.DecodeUint32(r)
		if err != nil {
			return Addr{}, fmt.Errorf("ndmp9: decode addr[%d] port: %w", i, err)
		}
		a.TCP = append(a.TCP, TCPAddr{IPAddr: ip, Port: uint16(port)})
	}
	return a, nil
}
