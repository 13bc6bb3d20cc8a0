package catalog

import "strconv"

// Recognized config keys. The config map stays open for application
// settings; these are the keys the engine itself reads.
const (
	KeyCacheEntries      = "cache.entries"      // buffer cache capacity, decoded payloads
	KeyExhibitionEnabled = "exhibition.enabled" // derive the exhibition rendition on save
)

const (
	DefaultCacheEntries      = 256
	DefaultExhibitionEnabled = true
)

// Settings is the typed view over the recognized config keys. Unset or
// malformed values fall back to the documented defaults.
type Settings struct {
	CacheEntries      int
	ExhibitionEnabled bool
}

// Settings parses the recognized keys out of the config map.
func (s *Store) Settings() Settings {
	set := Settings{
		CacheEntries:      DefaultCacheEntries,
		ExhibitionEnabled: DefaultExhibitionEnabled,
	}
	if v, ok := s.config[KeyCacheEntries]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			set.CacheEntries = n
		}
	}
	if v, ok := s.config[KeyExhibitionEnabled]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			set.ExhibitionEnabled = b
		}
	}
	return set
}
