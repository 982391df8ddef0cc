// Package capability mints durable tokens for filesystem locations and
// resolves them back to paths.
//
// A token records the path together with the identity (device and inode)
// of the file it named when minted. Resolving a token whose path now names
// a different file yields a stale resolution; the caller decides whether to
// re-mint.
package capability

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

const tokenVersion = 1

var (
	// ErrInvalidToken means the token bytes are corrupt or were minted by a
	// different broker key.
	ErrInvalidToken = errors.New("capability: invalid token")

	// ErrNotFound means the token's path no longer exists.
	ErrNotFound = errors.New("capability: location not found")
)

// Token is an opaque, durable reference to a filesystem location.
type Token []byte

// Resolution is the result of resolving a Token.
type Resolution struct {
	Path string

	// Stale is set when Path now refers to a different file than the one
	// the token was minted for. The path is still usable, but the token
	// should be re-minted.
	Stale bool
}

type reference struct {
	_        struct{} `cbor:",toarray"`
	Version  int
	Path     string
	Device   uint64
	Inode    uint64
	MintedAt int64
}

type envelope struct {
	_       struct{} `cbor:",toarray"`
	Payload []byte
	Sum     []byte
}

// Broker mints and resolves tokens. A keyed broker only accepts tokens it
// minted itself.
type Broker struct {
	key []byte
}

// NewBroker returns a Broker. key may be nil; otherwise it must be 32 bytes.
func NewBroker(key []byte) (*Broker, error) {
	if key != nil && len(key) != 32 {
		return nil, fmt.Errorf("capability: key must be 32 bytes, got %d", len(key))
	}
	return &Broker{key: key}, nil
}

// Mint returns a token for path, which must exist.
func (b *Broker) Mint(path string) (Token, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("capability: mint %s: %w", path, err)
	}
	dev, ino, err := identity(abs)
	if err != nil {
		return nil, fmt.Errorf("capability: mint %s: %w", path, err)
	}

	payload, err := cbor.Marshal(reference{
		Version:  tokenVersion,
		Path:     abs,
		Device:   dev,
		Inode:    ino,
		MintedAt: time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("capability: encode: %w", err)
	}
	sum, err := b.sum(payload)
	if err != nil {
		return nil, err
	}

	tok, err := cbor.Marshal(envelope{Payload: payload, Sum: sum})
	if err != nil {
		return nil, fmt.Errorf("capability: encode: %w", err)
	}
	return tok, nil
}

// Resolve maps tok back to a path. It never rewrites tok.
func (b *Broker) Resolve(tok Token) (Resolution, error) {
	ref, err := b.decode(tok)
	if err != nil {
		return Resolution{}, err
	}

	dev, ino, err := identity(ref.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNotFound, ref.Path)
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("capability: resolve %s: %w", ref.Path, err)
	}

	return Resolution{
		Path:  ref.Path,
		Stale: dev != ref.Device || ino != ref.Inode,
	}, nil
}

func (b *Broker) decode(tok Token) (reference, error) {
	var env envelope
	if err := cbor.Unmarshal(tok, &env); err != nil {
		return reference{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sum, err := b.sum(env.Payload)
	if err != nil {
		return reference{}, err
	}
	if !bytes.Equal(sum, env.Sum) {
		return reference{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidToken)
	}

	var ref reference
	if err := cbor.Unmarshal(env.Payload, &ref); err != nil {
		return reference{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if ref.Version != tokenVersion {
		return reference{}, fmt.Errorf("%w: version %d", ErrInvalidToken, ref.Version)
	}
	return ref, nil
}

func (b *Broker) sum(payload []byte) ([]byte, error) {
	if b.key == nil {
		s := blake3.Sum256(payload)
		return s[:], nil
	}
	h, err := blake3.NewKeyed(b.key)
	if err != nil {
		return nil, fmt.Errorf("capability: %w", err)
	}
	h.Write(payload)
	return h.Sum(nil), nil
}

func identity(path string) (dev, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}
