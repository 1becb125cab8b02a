package volume

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// blockEntryName returns the dblock entry name for a block's hash:
// base64url of the hash (spec.md §4.2 "entry name = base64url of block
// hash").
func blockEntryName(hash string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(hash))
}

// AddDBlockEntry adds one raw block to a dblock Writer, named per
// spec.md §4.2.
func (w *Writer) AddDBlockEntry(hash string, data []byte) {
	w.Add(blockEntryName(hash), data)
}

// DBlockEntry returns the raw bytes of the block with the given hash
// from a dblock Reader.
func (r *Reader) DBlockEntry(hash string) ([]byte, error) {
	return r.Entry(blockEntryName(hash))
}

// DIndexBlockList is the dindex entry enumerating the blocks contained
// in one dblock volume (spec.md §4.2 "entries enumerate the block list
// for one dblock volume by name").
type DIndexBlockList struct {
	DBlockVolume string           `json:"dblock_volume"`
	Blocks       []DIndexBlockRef `json:"blocks"`
}

// DIndexBlockRef pins one block's hash and size within its dblock
// volume; no offset is recorded.
type DIndexBlockRef struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// DIndexBlocksetHash records one long blockset in compact form (spec.md
// §4.2 "blocklist-hash entries that record long blocksets").
type DIndexBlocksetHash struct {
	BlocksetFullHash string   `json:"blockset_full_hash"`
	BlockHashes      []string `json:"block_hashes"`
}

const (
	dindexBlockListEntryName    = "blocklist.json"
	dindexBlocksetHashEntryName = "blocklisthash.json"
)

// AddDIndexEntry adds the block-list and blockset-hash entries to a
// dindex Writer.
func (w *Writer) AddDIndexEntry(blockList DIndexBlockList, blocksetHashes []DIndexBlocksetHash) error {
	blockListBytes, err := json.Marshal(blockList)
	if err != nil {
		return fmt.Errorf("volume: marshal dindex block list: %w", err)
	}
	w.Add(dindexBlockListEntryName, blockListBytes)

	hashesBytes, err := json.Marshal(blocksetHashes)
	if err != nil {
		return fmt.Errorf("volume: marshal dindex blockset hashes: %w", err)
	}
	w.Add(dindexBlocksetHashEntryName, hashesBytes)
	return nil
}

// DIndexEntry decodes a dindex Reader's block list and blockset-hash
// entries.
func (r *Reader) DIndexEntry() (DIndexBlockList, []DIndexBlocksetHash, error) {
	var blockList DIndexBlockList
	blockListBytes, err := r.Entry(dindexBlockListEntryName)
	if err != nil {
		return blockList, nil, err
	}
	if err := json.Unmarshal(blockListBytes, &blockList); err != nil {
		return blockList, nil, fmt.Errorf("volume: unmarshal dindex block list: %w", err)
	}

	var hashes []DIndexBlocksetHash
	hashesBytes, err := r.Entry(dindexBlocksetHashEntryName)
	if err != nil {
		return blockList, nil, err
	}
	if err := json.Unmarshal(hashesBytes, &hashes); err != nil {
		return blockList, nil, fmt.Errorf("volume: unmarshal dindex blockset hashes: %w", err)
	}
	return blockList, hashes, nil
}

// DFilesetFileRecord is one file's entry in a dfileset's filelist.json
// (spec.md §4.2 "enumerating file records in the fileset with their
// content/metadata blockset hashes and per-entry timestamps").
type DFilesetFileRecord struct {
	Path              string    `json:"path"`
	Kind              string    `json:"kind"`
	ContentBlocksetID string    `json:"content_blockset_hash,omitempty"`
	MetaBlocksetID    string    `json:"meta_blockset_hash,omitempty"`
	ModifiedAt        time.Time `json:"modified_at"`
	LastModified      bool      `json:"last_modified"`
}

const (
	dfilesetFilesEntryName    = "files"
	dfilesetFileListEntryName = "filelist.json"
)

// AddDFilesetEntry adds the two dfileset entries: a raw "files" blob
// (reserved for future inline small-file storage) and the JSON
// "filelist.json" manifest of file records.
func (w *Writer) AddDFilesetEntry(filesBlob []byte, records []DFilesetFileRecord) error {
	w.Add(dfilesetFilesEntryName, filesBlob)

	listBytes, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("volume: marshal dfileset file list: %w", err)
	}
	w.Add(dfilesetFileListEntryName, listBytes)
	return nil
}

// DFilesetEntry decodes a dfileset Reader's file-list entry.
func (r *Reader) DFilesetEntry() ([]DFilesetFileRecord, error) {
	listBytes, err := r.Entry(dfilesetFileListEntryName)
	if err != nil {
		return nil, err
	}
	var records []DFilesetFileRecord
	if err := json.Unmarshal(listBytes, &records); err != nil {
		return nil, fmt.Errorf("volume: unmarshal dfileset file list: %w", err)
	}
	return records, nil
}
