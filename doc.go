// Package pictdb is an embedded, single-process data engine for desktop
// media-cataloging applications. It persists catalog entries, tags and
// configuration plus binary image payloads inside one storage folder,
// transparently encrypting both.
//
// The folder holds one encrypted metadata document (replaced whole on
// Close) and a set of segment files carrying fixed-size payload blocks.
// An engine assumes exclusive ownership of its folder: opening twice
// concurrently, from one process or several, is undefined behavior.
//
// Typical use:
//
//	eng, err := pictdb.Open(dir, pictdb.Options{
//		Passphrase: pass,
//		Resize:     scaleForExhibition,
//	})
//	if err != nil { ... }
//	defer eng.Close()
//
//	created := eng.Create(pictdb.Illustration{
//		Tags:   []string{"cat"},
//		Images: []pictdb.Image{{}},
//	})
//	err = eng.SavePayload(ctx, created[0].Images[0].ID, rawJPEG)
package pictdb
