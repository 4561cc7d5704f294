// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package filetransfer

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// Compression of the transmitted bytes.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionXz   Compression = "xz"
)

// Offer is the metadata of one offered file.
type Offer struct {
	Name        string
	Size        uint64
	MediaType   string
	Date        time.Time
	Hash        Hash
	Compression Compression
}

// CheckValid returns every problem of this Offer, combined by multierror.
func (o Offer) CheckValid() (errs error) {
	if o.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("file without a name"))
	} else if o.Name != filepath.Base(o.Name) || strings.HasPrefix(o.Name, ".") {
		errs = multierror.Append(errs, fmt.Errorf("file name %q is not a plain name", o.Name))
	}

	if !o.Hash.IsZero() {
		if _, err := newHasher(o.Hash.Algo); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	switch o.Compression {
	case CompressionNone, CompressionXz:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unsupported compression %q", o.Compression))
	}

	return
}

func (o Offer) String() string {
	return fmt.Sprintf("%s (%d bytes, %v)", o.Name, o.Size, o.Hash)
}

// MarshalCbor writes this Offer as a CBOR array of six elements.
func (o *Offer) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(6, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(o.Name, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(o.Size, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(o.MediaType, w); err != nil {
		return err
	}

	var date uint64
	if !o.Date.IsZero() {
		date = uint64(o.Date.Unix())
	}
	if err := cboring.WriteUInt(date, w); err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteTextString(o.Hash.Algo, w); err != nil {
		return err
	}
	if err := cboring.WriteByteString(o.Hash.Value, w); err != nil {
		return err
	}

	return cboring.WriteTextString(string(o.Compression), w)
}

func (o *Offer) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 6 {
		return fmt.Errorf("expected array of six elements, got %d", n)
	}

	var err error
	if o.Name, err = cboring.ReadTextString(r); err != nil {
		return err
	}
	if o.Size, err = cboring.ReadUInt(r); err != nil {
		return err
	}
	if o.MediaType, err = cboring.ReadTextString(r); err != nil {
		return err
	}

	if date, err := cboring.ReadUInt(r); err != nil {
		return err
	} else if date > 0 {
		o.Date = time.Unix(int64(date), 0).UTC()
	} else {
		o.Date = time.Time{}
	}

	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("expected hash array of two elements, got %d", n)
	}
	if o.Hash.Algo, err = cboring.ReadTextString(r); err != nil {
		return err
	}
	if o.Hash.Value, err = cboring.ReadByteString(r); err != nil {
		return err
	}
	if len(o.Hash.Value) == 0 {
		o.Hash.Value = nil
	}

	compression, err := cboring.ReadTextString(r)
	if err != nil {
		return err
	}
	o.Compression = Compression(compression)

	return nil
}
