package volume

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/coldvault/coldvault/pkg/bufpool"
)

const manifestEntryName = "manifest"

// Entry is one named member of a volume container.
type Entry struct {
	Name string
	Data []byte
}

// Writer accumulates entries in memory and seals them into the
// compress-then-encrypt container format on Seal (spec.md §6 "Volume
// container"). Entries are written in call order; the manifest passed to
// NewWriter is always serialized first.
type Writer struct {
	manifest Manifest
	entries  []Entry
}

// NewWriter creates a Writer that will seal its entries under manifest.
func NewWriter(manifest Manifest) *Writer {
	return &Writer{manifest: manifest}
}

// Add appends a named entry to the container.
func (w *Writer) Add(name string, data []byte) {
	w.entries = append(w.entries, Entry{Name: name, Data: data})
}

// Seal compresses and encrypts the accumulated entries, returning the
// container bytes ready to be uploaded as a volume's content. passphrase
// is the repository's configured encryption key material.
func (w *Writer) Seal(passphrase string) ([]byte, error) {
	manifestBytes, err := json.Marshal(w.manifest)
	if err != nil {
		return nil, fmt.Errorf("volume: marshal manifest: %w", err)
	}

	// The uncompressed TLV assembly buffer is scratch space: its bytes
	// are consumed by the compressor below and never returned from
	// Seal, so it is pooled rather than freshly allocated per volume.
	estimatedSize := len(manifestBytes) + 12
	for _, e := range w.entries {
		estimatedSize += len(e.Name) + len(e.Data) + 12
	}
	pooled := bufpool.Get(estimatedSize)
	defer bufpool.Put(pooled)
	buf := bytes.NewBuffer(pooled[:0])

	if err := writeTLVEntry(buf, manifestEntryName, manifestBytes); err != nil {
		return nil, err
	}
	for _, e := range w.entries {
		if err := writeTLVEntry(buf, e.Name, e.Data); err != nil {
			return nil, err
		}
	}

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("volume: create compressor: %w", err)
	}
	if _, err := fw.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("volume: compress container: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("volume: finalize compression: %w", err)
	}

	if passphrase == "" {
		return compressed.Bytes(), nil
	}
	return encrypt(passphrase, compressed.Bytes())
}

// Reader decodes a sealed container back into its manifest and entries.
type Reader struct {
	Manifest Manifest
	entries  map[string][]byte
	order    []string
}

// Open decrypts and decompresses a sealed container, verifying its
// manifest entry is present. passphrase must match the Writer's; pass ""
// for unencrypted containers.
func Open(sealed []byte, passphrase string) (*Reader, error) {
	raw := sealed
	if passphrase != "" {
		var err error
		raw, err = decrypt(passphrase, sealed)
		if err != nil {
			return nil, err
		}
	}

	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()
	decompressed, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("volume: decompress container: %w", err)
	}

	entries, order, err := readTLVEntries(decompressed)
	if err != nil {
		return nil, err
	}

	r := &Reader{entries: entries, order: order}
	manifestBytes, ok := entries[manifestEntryName]
	if !ok {
		return nil, ErrManifestMissing
	}
	if err := json.Unmarshal(manifestBytes, &r.Manifest); err != nil {
		return nil, fmt.Errorf("volume: unmarshal manifest: %w", err)
	}
	return r, nil
}

// Entry returns the named entry's bytes.
func (r *Reader) Entry(name string) ([]byte, error) {
	data, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return data, nil
}

// EntryNames returns every non-manifest entry name in the order written.
func (r *Reader) EntryNames() []string {
	var names []string
	for _, n := range r.order {
		if n != manifestEntryName {
			names = append(names, n)
		}
	}
	return names
}

func writeTLVEntry(buf *bytes.Buffer, name string, data []byte) error {
	nameBytes := []byte(name)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(nameBytes))); err != nil {
		return fmt.Errorf("volume: write entry name length: %w", err)
	}
	buf.Write(nameBytes)
	if err := binary.Write(buf, binary.BigEndian, uint64(len(data))); err != nil {
		return fmt.Errorf("volume: write entry data length: %w", err)
	}
	buf.Write(data)
	return nil
}

func readTLVEntries(raw []byte) (map[string][]byte, []string, error) {
	entries := make(map[string][]byte)
	var order []string
	r := bytes.NewReader(raw)

	for r.Len() > 0 {
		var nameLen uint32
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, nil, fmt.Errorf("volume: read entry name length: %w", err)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, nil, fmt.Errorf("volume: read entry name: %w", err)
		}

		var dataLen uint64
		if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
			return nil, nil, fmt.Errorf("volume: read entry data length: %w", err)
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, nil, fmt.Errorf("volume: read entry data: %w", err)
		}

		name := string(nameBytes)
		entries[name] = data
		order = append(order, name)
	}
	return entries, order, nil
}
