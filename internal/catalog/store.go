package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/pictdb/pictdb/internal/crypto"
)

const (
	DocumentFile  = "catalog.pdb" // fixed document name inside the storage folder
	FormatVersion = 1

	DirPermSecure  = 0700
	FilePermSecure = 0600
)

var (
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// Store holds the full catalog in memory for the lifetime of a session. It
// is the single source of truth between Load and Save; persistence is a
// whole-document replace. The store is not safe for concurrent use, callers
// serialize access externally.
type Store struct {
	dir   string
	codec crypto.Codec
	log   *logrus.Entry

	storeID     string
	nextEntryID int64
	nextImageID int64
	nextBlock   uint64
	entries     []Illustration
	byID        map[int64]int // entry id -> index into entries
	blockMap    map[int64]map[Variant]BlockRef
	freeList    []uint64
	config      map[string]string

	// Global tag set. Grow-only: tags are never pruned when their last
	// reference disappears, so once-used tags stay offered to the UI.
	tags map[string]struct{}
}

// NewStore creates a store over the given folder. Call Load before use.
func NewStore(dir string, codec crypto.Codec, log *logrus.Entry) *Store {
	return &Store{dir: dir, codec: codec, log: log}
}

// SetCodec swaps the document codec, used when the passphrase changes.
func (s *Store) SetCodec(codec crypto.Codec) {
	s.codec = codec
}

// StoreID returns the persistent identity of this catalog.
func (s *Store) StoreID() string { return s.storeID }

// Load reads, decrypts and decodes the persisted document. A missing
// document initializes a fresh catalog and creates the storage folder. Any
// decode failure is returned before in-memory state is touched.
func (s *Store) Load() error {
	path := filepath.Join(s.dir, DocumentFile)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(s.dir, DirPermSecure); err != nil {
			return fmt.Errorf("failed to create storage folder: %w", err)
		}
		s.initEmpty()
		s.log.WithField("store_id", s.storeID).Info("initialized new catalog")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	plain, err := s.codec.OpenDocument(raw)
	if err != nil {
		return err
	}
	body, err := zstdDec.DecodeAll(plain, nil)
	if err != nil {
		// The envelope validated but the body is unusable, treat it the
		// same as any other undecodable document.
		return crypto.ErrDecode
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return crypto.ErrDecode
	}
	if doc.Version != FormatVersion {
		return fmt.Errorf("unsupported catalog version %d", doc.Version)
	}

	s.apply(doc)
	s.log.WithFields(logrus.Fields{
		"entries": len(s.entries),
		"tags":    len(s.tags),
	}).Debug("catalog loaded")
	return nil
}

// Save serializes the full state into one encrypted document and atomically
// replaces the on-disk file via a temp file and rename, so an interrupted
// save never truncates the previous valid document.
func (s *Store) Save() error {
	if err := os.MkdirAll(s.dir, DirPermSecure); err != nil {
		return fmt.Errorf("failed to create storage folder: %w", err)
	}

	body, err := json.Marshal(s.snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	sealed, err := s.codec.SealDocument(zstdEnc.EncodeAll(body, nil))
	if err != nil {
		return fmt.Errorf("failed to seal catalog: %w", err)
	}

	path := filepath.Join(s.dir, DocumentFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, FilePermSecure); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}

func (s *Store) initEmpty() {
	s.storeID = uuid.NewString()
	s.nextEntryID = 1
	s.nextImageID = 1
	s.nextBlock = 0
	s.entries = nil
	s.byID = make(map[int64]int)
	s.blockMap = make(map[int64]map[Variant]BlockRef)
	s.freeList = nil
	s.config = make(map[string]string)
	s.tags = make(map[string]struct{})
}

// apply installs a fully decoded document. The tag set is recomputed from
// the entries; the persisted list is not authoritative.
func (s *Store) apply(doc document) {
	s.storeID = doc.StoreID
	if s.storeID == "" {
		s.storeID = uuid.NewString()
	}
	s.nextEntryID = doc.NextEntryID
	s.nextImageID = doc.NextImageID
	s.nextBlock = doc.NextBlock
	s.entries = doc.Entries
	s.blockMap = doc.BlockMap
	if s.blockMap == nil {
		s.blockMap = make(map[int64]map[Variant]BlockRef)
	}
	s.freeList = doc.FreeList
	s.config = doc.Config
	if s.config == nil {
		s.config = make(map[string]string)
	}

	s.tags = make(map[string]struct{})
	for i := range s.entries {
		s.foldTags(s.entries[i])
	}
	s.reindex()
}

func (s *Store) snapshot() document {
	return document{
		Version:     FormatVersion,
		StoreID:     s.storeID,
		NextEntryID: s.nextEntryID,
		NextImageID: s.nextImageID,
		NextBlock:   s.nextBlock,
		Entries:     s.entries,
		BlockMap:    s.blockMap,
		FreeList:    s.freeList,
		Config:      s.config,
		Tags:        s.AllTags(),
	}
}

func (s *Store) reindex() {
	s.byID = make(map[int64]int, len(s.entries))
	for i := range s.entries {
		s.byID[s.entries[i].ID] = i
	}
}

// foldTags merges every entry- and image-level tag into the global set.
func (s *Store) foldTags(il Illustration) {
	for _, t := range il.Tags {
		s.tags[t] = struct{}{}
	}
	for _, img := range il.Images {
		for _, t := range img.Tags {
			s.tags[t] = struct{}{}
		}
	}
}

// Find returns all entries matching pred (nil matches everything). When
// order names keys, results are sorted stably by successive keys, all in
// the one shared direction.
func (s *Store) Find(pred func(Illustration) bool, order *Sort) []Illustration {
	var out []Illustration
	for i := range s.entries {
		if pred == nil || pred(s.entries[i]) {
			out = append(out, s.entries[i].Clone())
		}
	}
	if order != nil && len(order.Keys) > 0 {
		sortEntries(out, order)
	}
	return out
}

func sortEntries(list []Illustration, order *Sort) {
	sort.SliceStable(list, func(i, j int) bool {
		for _, key := range order.Keys {
			var c int
			if key == "id" {
				switch {
				case list[i].ID < list[j].ID:
					c = -1
				case list[i].ID > list[j].ID:
					c = 1
				}
			} else {
				c = strings.Compare(list[i].Attrs[key], list[j].Attrs[key])
			}
			if c == 0 {
				continue
			}
			if order.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// FindTags returns the matching tags from the global set in sorted order.
func (s *Store) FindTags(pred func(string) bool) []string {
	var out []string
	for t := range s.tags {
		if pred == nil || pred(t) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// AllTags returns the whole global tag set in sorted order.
func (s *Store) AllTags() []string {
	return s.FindTags(nil)
}

// Create appends entries, assigning missing entry and image ids from the
// monotonic counters, and folds their tags into the global set. An entry
// whose explicit id already exists is skipped and excluded from the result.
func (s *Store) Create(entries []Illustration) []Illustration {
	out := make([]Illustration, 0, len(entries))
	for _, e := range entries {
		e = e.Clone()
		if e.ID == 0 {
			e.ID = s.nextEntryID
			s.nextEntryID++
		} else {
			if _, exists := s.byID[e.ID]; exists {
				continue
			}
			if e.ID >= s.nextEntryID {
				s.nextEntryID = e.ID + 1
			}
		}
		s.assignImageIDs(&e)
		s.foldTags(e)

		s.byID[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
		out = append(out, e.Clone())
	}
	return out
}

// Update replaces entries matching by id in place. Entries with no match
// are silently skipped and excluded from the returned set. Newly appended
// images without an id are assigned one; tags are folded in as in Create.
func (s *Store) Update(entries []Illustration) []Illustration {
	out := make([]Illustration, 0, len(entries))
	for _, e := range entries {
		idx, ok := s.byID[e.ID]
		if !ok {
			continue
		}
		e = e.Clone()
		s.assignImageIDs(&e)
		s.foldTags(e)
		s.entries[idx] = e
		out = append(out, e.Clone())
	}
	return out
}

func (s *Store) assignImageIDs(e *Illustration) {
	for i := range e.Images {
		if e.Images[i].ID == 0 {
			e.Images[i].ID = s.nextImageID
			s.nextImageID++
		} else if e.Images[i].ID >= s.nextImageID {
			s.nextImageID = e.Images[i].ID + 1
		}
	}
}

// Delete removes the entries with the given ids and returns them. Unknown
// ids are skipped. Every block index referenced by a removed entry's
// renditions is reclaimed into the free list, oldest first. Tags are left
// in the global set (grow-only policy).
func (s *Store) Delete(ids []int64) []Illustration {
	var removed []Illustration
	for _, id := range ids {
		idx, ok := s.byID[id]
		if !ok {
			continue
		}
		e := s.entries[idx]
		for _, img := range e.Images {
			s.reclaimImage(img.ID)
		}

		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
		s.reindex()
		removed = append(removed, e)
	}
	return removed
}

// reclaimImage moves every block referenced by the image's renditions into
// the free list and drops its block map entry.
func (s *Store) reclaimImage(imageID int64) {
	refs, ok := s.blockMap[imageID]
	if !ok {
		return
	}
	for _, v := range variantOrder {
		if ref, ok := refs[v]; ok {
			s.freeList = append(s.freeList, ref.Blocks...)
		}
	}
	delete(s.blockMap, imageID)
}

// AllocateBlock returns the next block index: oldest free-list entry first,
// advancing the monotonic counter only when the free list is empty.
func (s *Store) AllocateBlock() uint64 {
	if len(s.freeList) > 0 {
		idx := s.freeList[0]
		s.freeList = s.freeList[1:]
		return idx
	}
	idx := s.nextBlock
	s.nextBlock++
	return idx
}

// SetBlockRef records where a rendition's bytes live. Blocks of a previous
// rendition under the same key are reclaimed into the free list.
func (s *Store) SetBlockRef(imageID int64, v Variant, ref BlockRef) {
	refs, ok := s.blockMap[imageID]
	if !ok {
		refs = make(map[Variant]BlockRef)
		s.blockMap[imageID] = refs
	}
	if old, ok := refs[v]; ok {
		s.freeList = append(s.freeList, old.Blocks...)
	}
	refs[v] = ref
}

// BlockFor looks up the block record for one rendition of an image.
func (s *Store) BlockFor(imageID int64, v Variant) (BlockRef, bool) {
	refs, ok := s.blockMap[imageID]
	if !ok {
		return BlockRef{}, false
	}
	ref, ok := refs[v]
	return ref, ok
}

// EachBlockRef visits every recorded rendition in deterministic order.
func (s *Store) EachBlockRef(fn func(imageID int64, v Variant, ref BlockRef)) {
	ids := make([]int64, 0, len(s.blockMap))
	for id := range s.blockMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		for _, v := range variantOrder {
			if ref, ok := s.blockMap[id][v]; ok {
				fn(id, v, ref)
			}
		}
	}
}

// ConfigGet returns the value for a config key.
func (s *Store) ConfigGet(key string) (string, bool) {
	v, ok := s.config[key]
	return v, ok
}

// ConfigPut sets a config key.
func (s *Store) ConfigPut(key, value string) {
	s.config[key] = value
}

// ConfigHas reports whether a config key is set.
func (s *Store) ConfigHas(key string) bool {
	_, ok := s.config[key]
	return ok
}
