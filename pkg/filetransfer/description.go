// SPDX-FileCopyrightText: 2022 The jingle-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package filetransfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/dtn7/cboring"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/jingle-go/jingle-go/pkg/jingle"
)

// Namespace of the file transfer application.
const Namespace = "urn:xmpp:jingle:apps:file-transfer:5"

// ErrHashMismatch is returned if a received file does not match its offered Hash.
var ErrHashMismatch = errors.New("received file does not match its hash")

// Description is a file transfer Content's application. It either sends a local file or receives an offered one.
type Description struct {
	mutex sync.Mutex
	offer Offer

	// source is the local file to be sent.
	source string

	// incomingDir stores received files; onReceived is informed about each one.
	incomingDir string
	onReceived  func(offer Offer, path string)

	received string
}

// OfferOptions configure NewFileOffer.
type OfferOptions struct {
	// HashAlgo defaults to SHA256.
	HashAlgo string
	Compress bool
}

// NewFileOffer creates a sending Description for a local file, computing its size and hash.
func NewFileOffer(path string, opts OfferOptions) (*Description, error) {
	if opts.HashAlgo == "" {
		opts.HashAlgo = SHA256
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	} else if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	size, h, err := hashFile(path, opts.HashAlgo)
	if err != nil {
		return nil, err
	}

	offer := Offer{
		Name:      filepath.Base(path),
		Size:      size,
		MediaType: mime.TypeByExtension(filepath.Ext(path)),
		Date:      fi.ModTime().UTC().Truncate(1e9),
		Hash:      h,
	}
	if opts.Compress {
		offer.Compression = CompressionXz
	}

	return &Description{offer: offer, source: path}, nil
}

func (d *Description) Namespace() string {
	return Namespace
}

// Offer of this Description.
func (d *Description) Offer() Offer {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.offer
}

// Received returns the path of the stored file after a successful reception.
func (d *Description) Received() string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.received
}

// closeOnDone closes the stream when the context is cancelled, unblocking pending reads and writes.
func closeOnDone(ctx context.Context, stream jingle.Bytestream) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// OnBytestream sends or receives the file.
func (d *Description) OnBytestream(ctx context.Context, stream jingle.Bytestream, sending bool) (err error) {
	stop := closeOnDone(ctx, stream)
	defer stop()

	offer := d.Offer()
	logger := log.WithFields(log.Fields{
		"file":    offer.Name,
		"sending": sending,
	})

	if sending {
		err = d.send(stream, offer)
	} else {
		err = d.receive(stream, offer)
	}

	if closeErr := stream.Close(); err == nil && ctx.Err() == nil {
		err = closeErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	if err != nil {
		logger.WithError(err).Warn("File transfer failed")
	} else {
		logger.Info("File transfer finished")
	}
	return
}

func (d *Description) send(stream io.Writer, offer Offer) error {
	if d.source == "" {
		return fmt.Errorf("offer %s has no local source", offer.Name)
	}

	f, err := os.Open(d.source)
	if err != nil {
		return err
	}
	defer f.Close()

	if offer.Compression != CompressionXz {
		_, err = io.Copy(stream, f)
		return err
	}

	xzW, err := xz.NewWriter(stream)
	if err != nil {
		return err
	}
	if _, err = io.Copy(xzW, f); err != nil {
		return err
	}
	return xzW.Close()
}

func (d *Description) receive(stream io.Reader, offer Offer) error {
	if d.incomingDir == "" {
		return fmt.Errorf("no incoming directory for %s", offer.Name)
	}

	var r io.Reader = stream
	if offer.Compression == CompressionXz {
		xzR, err := xz.NewReader(stream)
		if err != nil {
			return err
		}
		r = xzR
	}

	tmp, err := os.CreateTemp(d.incomingDir, ".incoming-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	var (
		w      io.Writer = tmp
		hasher hash.Hash
	)
	if !offer.Hash.IsZero() {
		if hasher, err = newHasher(offer.Hash.Algo); err != nil {
			_ = tmp.Close()
			return err
		}
		w = io.MultiWriter(tmp, hasher)
	}

	n, err := io.Copy(w, io.LimitReader(r, int64(offer.Size)+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if uint64(n) != offer.Size {
		return fmt.Errorf("received %d bytes of %s, expected %d", n, offer.Name, offer.Size)
	}
	if hasher != nil && !bytes.Equal(hasher.Sum(nil), offer.Hash.Value) {
		return ErrHashMismatch
	}

	path, err := storePath(d.incomingDir, offer.Name)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	d.mutex.Lock()
	d.received = path
	d.mutex.Unlock()

	if d.onReceived != nil {
		d.onReceived(offer, path)
	}
	return nil
}

// storePath finds an unused path for a file name within a directory.
func storePath(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]

	for i := 1; i < 1000; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", err
		}
		path = filepath.Join(dir, fmt.Sprintf("%s.%d%s", base, i, ext))
	}
	return "", fmt.Errorf("no free file name for %s", name)
}

// HandleDescriptionInfo accepts a checksum, a CBOR encoded Hash, for an Offer without one.
func (d *Description) HandleDescriptionInfo(info jingle.Payload) error {
	r := bytes.NewReader(info.Data)

	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("expected checksum array of two elements, got %d", n)
	}

	var (
		h   Hash
		err error
	)
	if h.Algo, err = cboring.ReadTextString(r); err != nil {
		return err
	}
	if h.Value, err = cboring.ReadByteString(r); err != nil {
		return err
	}
	if _, err := newHasher(h.Algo); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.offer.Hash.IsZero() {
		return fmt.Errorf("offer %s already has a hash", d.offer.Name)
	}
	d.offer.Hash = h
	return nil
}

// ChecksumInfo creates a description-info Payload announcing a Hash.
func ChecksumInfo(h Hash) (jingle.Payload, error) {
	var buf bytes.Buffer
	if err := cboring.WriteArrayLength(2, &buf); err != nil {
		return jingle.Payload{}, err
	}
	if err := cboring.WriteTextString(h.Algo, &buf); err != nil {
		return jingle.Payload{}, err
	}
	if err := cboring.WriteByteString(h.Value, &buf); err != nil {
		return jingle.Payload{}, err
	}
	return jingle.Payload{Namespace: Namespace, Data: buf.Bytes()}, nil
}
