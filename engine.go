package pictdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/pictdb/pictdb/internal/blockio"
	"github.com/pictdb/pictdb/internal/cache"
	"github.com/pictdb/pictdb/internal/catalog"
	"github.com/pictdb/pictdb/internal/crypto"
	"github.com/pictdb/pictdb/internal/passkey"
)

// Re-exported catalog types; the facade surface speaks in these.
type (
	Illustration = catalog.Illustration
	Image        = catalog.Image
	Variant      = catalog.Variant
	Sort         = catalog.Sort
)

const (
	VariantOrigin     = catalog.VariantOrigin
	VariantExhibition = catalog.VariantExhibition
	VariantThumbnail  = catalog.VariantThumbnail
)

var (
	ErrNotFound           = errors.New("payload not found")
	ErrPassphraseRequired = errors.New("passphrase required")

	// ErrDecode reports an undecodable document or payload: wrong key or
	// corrupted bytes, indistinguishable by construction.
	ErrDecode = crypto.ErrDecode
)

// Resize derives the exhibition rendition from raw payload bytes. It is an
// external collaborator; the engine never inspects image formats itself.
type Resize func(raw []byte) ([]byte, error)

// Options configures an engine instance.
type Options struct {
	// Passphrase unlocks the storage folder. When empty, the OS keyring is
	// consulted under the folder's absolute path (see SavePassphrase).
	Passphrase string

	// Sealed selects the authenticated AES-GCM codec instead of the legacy
	// stream codec. A folder written with one cannot be opened with the
	// other.
	Sealed bool

	// CacheEntries overrides the cache.entries catalog setting.
	CacheEntries int

	// Resize produces the exhibition rendition during SavePayload. When
	// nil, only the origin rendition is stored.
	Resize Resize

	// Logger receives engine logs; defaults to logrus.StandardLogger().
	Logger *logrus.Logger
}

// Engine is the data engine for one storage folder. It assumes exclusive
// single-process ownership of the folder; two engines over the same folder
// is undefined behavior. Public operations touching overlapping ids must be
// serialized by the caller.
type Engine struct {
	dir    string
	sealed bool
	codec  crypto.Codec
	store  *catalog.Store
	blocks *blockio.Manager
	cache  *cache.Cache
	resize Resize
	log    *logrus.Entry
}

// Open connects an engine to a storage folder, creating it on first use.
// The whole metadata document is loaded into memory and stays the source
// of truth until Close.
func Open(dir string, opts Options) (*Engine, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage folder: %w", err)
	}

	pass := opts.Passphrase
	if pass == "" {
		stored, err := passkey.Get(abs)
		if err != nil {
			return nil, ErrPassphraseRequired
		}
		pass = stored
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("store", abs)

	var codec crypto.Codec
	if opts.Sealed {
		codec = crypto.NewSealedCodec(pass)
	} else {
		codec = crypto.NewStreamCodec(pass)
	}

	store := catalog.NewStore(abs, codec, log)
	if err := store.Load(); err != nil {
		return nil, err
	}

	entries := store.Settings().CacheEntries
	if opts.CacheEntries > 0 {
		entries = opts.CacheEntries
	}
	buf, err := cache.New(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer cache: %w", err)
	}

	log.Info("engine connected")
	return &Engine{
		dir:    abs,
		sealed: opts.Sealed,
		codec:  codec,
		store:  store,
		blocks: blockio.New(abs, log),
		cache:  buf,
		resize: opts.Resize,
		log:    log,
	}, nil
}

// Close persists the metadata document and releases the engine. The engine
// is unusable afterwards.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	err := e.store.Save()
	e.store = nil
	if err != nil {
		return err
	}
	e.log.Info("engine closed")
	return nil
}

// StoreID returns the persistent identity of the opened catalog.
func (e *Engine) StoreID() string { return e.store.StoreID() }

// Find returns all entries matching pred, ordered per order.
func (e *Engine) Find(pred func(Illustration) bool, order *Sort) []Illustration {
	return e.store.Find(pred, order)
}

// Create adds entries, assigning missing ids, and returns the stored forms.
func (e *Engine) Create(entries ...Illustration) []Illustration {
	return e.store.Create(entries)
}

// Update replaces entries by id; unmatched entries are skipped.
func (e *Engine) Update(entries ...Illustration) []Illustration {
	return e.store.Update(entries)
}

// Delete removes entries by id, reclaims their payload blocks and drops
// their cached renditions. Unknown ids are skipped.
func (e *Engine) Delete(ids ...int64) []Illustration {
	removed := e.store.Delete(ids)
	for _, il := range removed {
		for _, img := range il.Images {
			e.cache.DropImage(img.ID)
		}
	}
	return removed
}

// Tags returns the matching tags from the global grow-only set.
func (e *Engine) Tags(pred func(string) bool) []string {
	return e.store.FindTags(pred)
}

// ConfigGet returns the value of a config key.
func (e *Engine) ConfigGet(key string) (string, bool) { return e.store.ConfigGet(key) }

// ConfigPut sets a config key.
func (e *Engine) ConfigPut(key, value string) { e.store.ConfigPut(key, value) }

// ConfigHas reports whether a config key is set.
func (e *Engine) ConfigHas(key string) bool { return e.store.ConfigHas(key) }

// SavePayload encrypts and stores raw under the origin rendition of the
// image, then derives and stores the exhibition rendition through the
// Resize collaborator. The two writes are not transactional as a pair: a
// failed exhibition write leaves the origin record intact.
func (e *Engine) SavePayload(ctx context.Context, imageID int64, raw []byte) error {
	if err := e.writeRendition(ctx, imageID, VariantOrigin, raw); err != nil {
		return err
	}

	if e.resize == nil || !e.store.Settings().ExhibitionEnabled {
		return nil
	}
	scaled, err := e.resize(raw)
	if err != nil {
		return fmt.Errorf("resize failed: %w", err)
	}
	return e.writeRendition(ctx, imageID, VariantExhibition, scaled)
}

func (e *Engine) writeRendition(ctx context.Context, imageID int64, v Variant, raw []byte) error {
	sealed, err := e.codec.SealPayload(raw)
	if err != nil {
		return err
	}

	blocks, err := e.blocks.Write(ctx, sealed, e.store.AllocateBlock)
	if err != nil {
		return err
	}

	e.store.SetBlockRef(imageID, v, catalog.BlockRef{Blocks: blocks, Length: int64(len(sealed))})
	e.cache.Drop(cache.Key{Variant: string(v), ImageID: imageID})
	return nil
}

// LoadPayload returns the decoded payload for one rendition of an image,
// through the buffer cache. A rendition that was never stored yields
// ErrNotFound.
func (e *Engine) LoadPayload(ctx context.Context, imageID int64, v Variant) ([]byte, error) {
	key := cache.Key{Variant: string(v), ImageID: imageID}
	if data, ok := e.cache.Get(key); ok {
		return data, nil
	}

	ref, ok := e.store.BlockFor(imageID, v)
	if !ok {
		return nil, ErrNotFound
	}

	sealed, err := e.blocks.Read(ctx, ref.Blocks, ref.Length)
	if err != nil {
		return nil, err
	}
	raw, err := e.codec.OpenPayload(sealed)
	if err != nil {
		return nil, err
	}

	e.cache.Put(key, raw)
	return raw, nil
}

// ChangePassphrase re-encrypts every stored rendition in place and rewrites
// the metadata document under the new passphrase. The same block indices
// are reused, so the block map is untouched.
func (e *Engine) ChangePassphrase(ctx context.Context, passphrase string) error {
	var next crypto.Codec
	if e.sealed {
		next = crypto.NewSealedCodec(passphrase)
	} else {
		next = crypto.NewStreamCodec(passphrase)
	}

	var rewriteErr error
	e.store.EachBlockRef(func(imageID int64, v Variant, ref catalog.BlockRef) {
		if rewriteErr != nil {
			return
		}
		sealed, err := e.blocks.Read(ctx, ref.Blocks, ref.Length)
		if err != nil {
			rewriteErr = err
			return
		}
		raw, err := e.codec.OpenPayload(sealed)
		if err != nil {
			rewriteErr = err
			return
		}
		resealed, err := next.SealPayload(raw)
		if err != nil {
			rewriteErr = err
			return
		}

		// Replay the recorded indices so the bytes land in their old blocks.
		i := 0
		_, err = e.blocks.Write(ctx, resealed, func() uint64 {
			idx := ref.Blocks[i]
			i++
			return idx
		})
		if err != nil {
			rewriteErr = err
		}
	})
	if rewriteErr != nil {
		return fmt.Errorf("failed to re-encrypt payloads: %w", rewriteErr)
	}

	e.codec = next
	e.store.SetCodec(next)
	if err := e.store.Save(); err != nil {
		return err
	}
	e.log.Info("passphrase changed")
	return nil
}

// SavePassphrase stores a folder's passphrase in the OS keyring so Open can
// run without an explicit passphrase.
func SavePassphrase(dir, passphrase string) error {
	return passkey.Save(dir, passphrase)
}

// ForgetPassphrase removes a folder's passphrase from the OS keyring.
func ForgetPassphrase(dir string) error {
	return passkey.Forget(dir)
}

// HasPassphrase checks whether the OS keyring holds a passphrase for the
// folder.
func HasPassphrase(dir string) bool {
	return passkey.Has(dir)
}
