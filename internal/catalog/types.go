package catalog

// Variant names one stored rendition of an image payload.
type Variant string

const (
	VariantOrigin     Variant = "origin"
	VariantExhibition Variant = "exhibition"
	VariantThumbnail  Variant = "thumbnail"
)

// variantOrder fixes the iteration order over a rendition map so block
// reclamation stays deterministic.
var variantOrder = []Variant{VariantOrigin, VariantExhibition, VariantThumbnail}

// Image is one picture belonging to an illustration entry. Image ids are
// unique across the whole catalog, not per entry.
type Image struct {
	ID   int64    `json:"id"`
	Tags []string `json:"tags,omitempty"`
}

// Illustration is one catalog entry: an ordered list of images plus
// entry-level tags and open attributes.
type Illustration struct {
	ID     int64             `json:"id"`
	Tags   []string          `json:"tags,omitempty"`
	Images []Image           `json:"images,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Clone returns a deep copy so callers never alias the store's state.
func (il Illustration) Clone() Illustration {
	out := il
	if il.Tags != nil {
		out.Tags = append([]string(nil), il.Tags...)
	}
	if il.Images != nil {
		out.Images = make([]Image, len(il.Images))
		for i, img := range il.Images {
			out.Images[i] = img
			if img.Tags != nil {
				out.Images[i].Tags = append([]string(nil), img.Tags...)
			}
		}
	}
	if il.Attrs != nil {
		out.Attrs = make(map[string]string, len(il.Attrs))
		for k, v := range il.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// HasTag reports whether the entry or any of its images carries the tag.
func (il Illustration) HasTag(tag string) bool {
	for _, t := range il.Tags {
		if t == tag {
			return true
		}
	}
	for _, img := range il.Images {
		for _, t := range img.Tags {
			if t == tag {
				return true
			}
		}
	}
	return false
}

// BlockRef records where one payload rendition lives in the segment files:
// the ordered block indices and the total stored byte length.
type BlockRef struct {
	Blocks []uint64 `json:"blocks"`
	Length int64    `json:"length"`
}

// Sort describes an ordering over find results: successive keys applied
// stably, all in one shared direction. The key "id" orders by entry id,
// any other key compares the attribute of that name.
type Sort struct {
	Keys       []string
	Descending bool
}

// document is the persisted form of the whole store. The tag list is
// derived from the entries and persisted for convenience only; load
// recomputes it rather than trusting it.
type document struct {
	Version     int                            `json:"version"`
	StoreID     string                         `json:"storeId"`
	NextEntryID int64                          `json:"nextEntryId"`
	NextImageID int64                          `json:"nextImageId"`
	NextBlock   uint64                         `json:"nextBlock"`
	Entries     []Illustration                 `json:"entries"`
	BlockMap    map[int64]map[Variant]BlockRef `json:"blockMap"`
	FreeList    []uint64                       `json:"freeList"`
	Config      map[string]string              `json:"config"`
	Tags        []string                       `json:"tags"`
}
