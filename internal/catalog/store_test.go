package catalog

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/pictdb/pictdb/internal/crypto"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testStore(t *testing.T, dir, passphrase string) *Store {
	t.Helper()
	s := NewStore(dir, crypto.NewStreamCodec(passphrase), testLog())
	if err := s.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func TestLoadInitializesEmpty(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")

	if got := s.Find(nil, nil); len(got) != 0 {
		t.Errorf("fresh store holds %d entries", len(got))
	}
	if s.StoreID() == "" {
		t.Error("fresh store should have an id")
	}
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")

	first := s.Create([]Illustration{
		{Images: []Image{{}, {}}},
		{Images: []Image{{}}},
	})
	if len(first) != 2 {
		t.Fatalf("created %d entries, want 2", len(first))
	}
	if first[0].ID != 1 || first[1].ID != 2 {
		t.Errorf("entry ids = %d, %d; want 1, 2", first[0].ID, first[1].ID)
	}
	if ids := []int64{first[0].Images[0].ID, first[0].Images[1].ID, first[1].Images[0].ID}; !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
		t.Errorf("image ids = %v, want [1 2 3]", ids)
	}

	// Ids keep increasing across calls.
	second := s.Create([]Illustration{{Images: []Image{{}}}})
	if second[0].ID != 3 {
		t.Errorf("entry id = %d, want 3", second[0].ID)
	}
	if second[0].Images[0].ID != 4 {
		t.Errorf("image id = %d, want 4", second[0].Images[0].ID)
	}
}

func TestCreateSkipsDuplicateID(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	s.Create([]Illustration{{ID: 7}})

	out := s.Create([]Illustration{{ID: 7}})
	if len(out) != 0 {
		t.Errorf("duplicate id create returned %d entries, want 0", len(out))
	}
	if got := s.Find(nil, nil); len(got) != 1 {
		t.Errorf("store holds %d entries, want 1", len(got))
	}

	// Explicit ids advance the counter past themselves.
	next := s.Create([]Illustration{{}})
	if next[0].ID != 8 {
		t.Errorf("next auto id = %d, want 8", next[0].ID)
	}
}

func TestUpdateSkipsMissing(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	created := s.Create([]Illustration{{Tags: []string{"old"}}})

	out := s.Update([]Illustration{
		{ID: created[0].ID, Tags: []string{"new"}},
		{ID: 999, Tags: []string{"ghost"}},
	})
	if len(out) != 1 {
		t.Fatalf("updated %d entries, want 1", len(out))
	}
	if out[0].Tags[0] != "new" {
		t.Errorf("updated tags = %v", out[0].Tags)
	}

	// A new image appended during update receives an id.
	out = s.Update([]Illustration{{ID: created[0].ID, Images: []Image{{}}}})
	if out[0].Images[0].ID == 0 {
		t.Error("appended image should be assigned an id")
	}
}

func TestDeleteReclaimsBlocksFIFO(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	entries := s.Create([]Illustration{
		{Images: []Image{{}}},
		{Images: []Image{{}}},
	})
	imgA := entries[0].Images[0].ID
	imgB := entries[1].Images[0].ID

	// Blocks 0-4 belong to A, 5-6 to B.
	refA := BlockRef{Length: 5 * 65536}
	for i := 0; i < 5; i++ {
		refA.Blocks = append(refA.Blocks, s.AllocateBlock())
	}
	refB := BlockRef{Blocks: []uint64{s.AllocateBlock(), s.AllocateBlock()}, Length: 100000}
	s.SetBlockRef(imgA, VariantOrigin, refA)
	s.SetBlockRef(imgB, VariantOrigin, refB)
	if !reflect.DeepEqual(refB.Blocks, []uint64{5, 6}) {
		t.Fatalf("setup allocated %v, want [5 6]", refB.Blocks)
	}

	removed := s.Delete([]int64{entries[1].ID})
	if len(removed) != 1 {
		t.Fatalf("deleted %d entries, want 1", len(removed))
	}
	if _, ok := s.BlockFor(imgB, VariantOrigin); ok {
		t.Error("deleted image should have no block record")
	}

	// The freed indices are reused oldest-first before the counter advances.
	if got := []uint64{s.AllocateBlock(), s.AllocateBlock()}; !reflect.DeepEqual(got, []uint64{5, 6}) {
		t.Errorf("reallocated %v, want [5 6]", got)
	}
	if got := s.AllocateBlock(); got != 7 {
		t.Errorf("counter allocation = %d, want 7", got)
	}
}

func TestSetBlockRefReclaimsReplaced(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	e := s.Create([]Illustration{{Images: []Image{{}}}})
	img := e[0].Images[0].ID

	s.SetBlockRef(img, VariantOrigin, BlockRef{Blocks: []uint64{s.AllocateBlock()}, Length: 10})
	s.SetBlockRef(img, VariantOrigin, BlockRef{Blocks: []uint64{s.AllocateBlock()}, Length: 12})

	// Block 0 was replaced and must come back before the counter moves.
	if got := s.AllocateBlock(); got != 0 {
		t.Errorf("allocated %d, want recycled 0", got)
	}
}

func TestFindByTagSortedDescending(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	s.Create([]Illustration{
		{Tags: []string{"cat"}},
		{Tags: []string{"dog"}},
		{Images: []Image{{Tags: []string{"cat"}}}},
		{Tags: []string{"cat", "dog"}},
	})

	got := s.Find(func(il Illustration) bool { return il.HasTag("cat") }, &Sort{Keys: []string{"id"}, Descending: true})
	if len(got) != 3 {
		t.Fatalf("found %d entries, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID <= got[i].ID {
			t.Errorf("ids not strictly decreasing: %d then %d", got[i-1].ID, got[i].ID)
		}
	}
	for _, il := range got {
		if !il.HasTag("cat") {
			t.Errorf("entry %d lacks tag cat", il.ID)
		}
	}
}

func TestFindMultiKeySortStable(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	s.Create([]Illustration{
		{Attrs: map[string]string{"artist": "b", "title": "x"}},
		{Attrs: map[string]string{"artist": "a", "title": "y"}},
		{Attrs: map[string]string{"artist": "a", "title": "x"}},
	})

	got := s.Find(nil, &Sort{Keys: []string{"artist", "title"}})
	want := [][2]string{{"a", "x"}, {"a", "y"}, {"b", "x"}}
	for i, il := range got {
		if il.Attrs["artist"] != want[i][0] || il.Attrs["title"] != want[i][1] {
			t.Errorf("position %d: got %s/%s, want %s/%s",
				i, il.Attrs["artist"], il.Attrs["title"], want[i][0], want[i][1])
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := testStore(t, dir, "pw")

	created := s.Create([]Illustration{{
		Tags:   []string{"cat"},
		Images: []Image{{Tags: []string{"sketch"}}},
		Attrs:  map[string]string{"title": "morning"},
	}})
	img := created[0].Images[0].ID
	s.SetBlockRef(img, VariantOrigin, BlockRef{Blocks: []uint64{s.AllocateBlock()}, Length: 42})
	s.ConfigPut("cache.entries", "64")
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s2 := testStore(t, dir, "pw")
	got := s2.Find(nil, nil)
	if len(got) != 1 || !reflect.DeepEqual(got[0], created[0]) {
		t.Errorf("entries after reload = %+v, want %+v", got, created)
	}
	if ref, ok := s2.BlockFor(img, VariantOrigin); !ok || ref.Length != 42 {
		t.Errorf("block ref after reload = %+v, %v", ref, ok)
	}
	if tags := s2.AllTags(); !reflect.DeepEqual(tags, []string{"cat", "sketch"}) {
		t.Errorf("tags after reload = %v", tags)
	}
	if s2.Settings().CacheEntries != 64 {
		t.Errorf("settings after reload = %+v", s2.Settings())
	}
	if s2.StoreID() != s.StoreID() {
		t.Error("store id should persist")
	}

	// Counters continue where they left off.
	next := s2.Create([]Illustration{{Images: []Image{{}}}})
	if next[0].ID != 2 || next[0].Images[0].ID != 2 {
		t.Errorf("counters after reload: entry %d image %d, want 2 and 2",
			next[0].ID, next[0].Images[0].ID)
	}
}

func TestWrongPassphraseFailsClosed(t *testing.T) {
	dir := t.TempDir()
	s := testStore(t, dir, "pw")
	s.Create([]Illustration{{Tags: []string{"cat"}}})
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s2 := NewStore(dir, crypto.NewStreamCodec("wrong"), testLog())
	if err := s2.Load(); !errors.Is(err, crypto.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	// The document survives and opens with the right key.
	s3 := testStore(t, dir, "pw")
	if got := s3.Find(nil, nil); len(got) != 1 {
		t.Errorf("document damaged by failed load: %d entries", len(got))
	}
}

func TestTagsAreGrowOnly(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	created := s.Create([]Illustration{{Tags: []string{"fleeting"}}})

	s.Delete([]int64{created[0].ID})
	if tags := s.AllTags(); !reflect.DeepEqual(tags, []string{"fleeting"}) {
		t.Errorf("tags after delete = %v, want [fleeting]", tags)
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")

	set := s.Settings()
	if set.CacheEntries != DefaultCacheEntries || !set.ExhibitionEnabled {
		t.Errorf("defaults = %+v", set)
	}

	s.ConfigPut(KeyCacheEntries, "not a number")
	s.ConfigPut(KeyExhibitionEnabled, "false")
	set = s.Settings()
	if set.CacheEntries != DefaultCacheEntries {
		t.Errorf("malformed value should keep default, got %d", set.CacheEntries)
	}
	if set.ExhibitionEnabled {
		t.Error("exhibition.enabled=false not honored")
	}
}

func TestFindReturnsCopies(t *testing.T) {
	s := testStore(t, t.TempDir(), "pw")
	s.Create([]Illustration{{Tags: []string{"cat"}}})

	got := s.Find(nil, nil)
	got[0].Tags[0] = "mutated"

	if again := s.Find(nil, nil); again[0].Tags[0] != "cat" {
		t.Error("Find result aliases store state")
	}
}
