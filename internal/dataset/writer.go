package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/timmy/floraset/internal/domain"
)

const (
	imagesDirName   = "images"
	metadataDirName = "metadata"
	tmpSuffix       = ".tmp"
)

// Writer persists image/metadata pairs under an output root:
//
//	{root}/images/{species}/{recordID}.{ext}
//	{root}/metadata/{species}/{recordID}.json
//
// Writes are effectively atomic per record: the image is committed first via
// temp-file-and-rename, the metadata second the same way, and a metadata
// failure removes the image again. A crash can therefore leave at most an
// orphan image, which Repair removes on the next run.
type Writer struct {
	root string
}

// NewWriter creates a Writer rooted at dir, creating the images/ and
// metadata/ trees. An unusable root is a configuration error.
// Parameters:
//   - root: output root directory.
// Returns:
//   - *Writer: initialized writer.
//   - error: ConfigError if the root cannot be created or written.
func NewWriter(root string) (*Writer, error) {
	for _, d := range []string{root, filepath.Join(root, imagesDirName), filepath.Join(root, metadataDirName)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, domain.NewConfigError(fmt.Sprintf("output root %q", root), err)
		}
	}

	// Probe writability up front so a read-only root fails the run instead
	// of failing every record.
	probe := filepath.Join(root, ".floraset-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return nil, domain.NewConfigError(fmt.Sprintf("output root %q is not writable", root), err)
	}
	_ = os.Remove(probe)

	return &Writer{root: root}, nil
}

// Root returns the output root directory.
func (w *Writer) Root() string {
	return w.root
}

// ImagePath returns the image path for a record.
func (w *Writer) ImagePath(species, recordID, ext string) string {
	return filepath.Join(w.root, imagesDirName, species, recordID+"."+ext)
}

// MetadataPath returns the metadata path for a record.
func (w *Writer) MetadataPath(species, recordID string) string {
	return filepath.Join(w.root, metadataDirName, species, recordID+".json")
}

// FindImage looks for an existing committed image for a record, regardless
// of extension. Used to skip re-downloads on resumed runs.
// Parameters:
//   - species: species directory name.
//   - recordID: record identifier stem.
// Returns:
//   - string: path of the existing image, empty if none.
//   - error: non-nil on directory read failure.
func (w *Writer) FindImage(species, recordID string) (string, error) {
	dir := filepath.Join(w.root, imagesDirName, species)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}

	prefix := recordID + "."
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			return filepath.Join(dir, name), nil
		}
	}
	return "", nil
}

// WritePair writes the image and its metadata document for a record.
// Parameters:
//   - species: species directory name.
//   - recordID: record identifier stem.
//   - ext: image file extension.
//   - image: raw image bytes.
//   - meta: metadata document to serialize.
// Returns:
//   - error: *domain.WriteError; Systemic when the species directories
//     cannot be created.
func (w *Writer) WritePair(species, recordID, ext string, image []byte, meta *Metadata) error {
	imageDir := filepath.Join(w.root, imagesDirName, species)
	metaDir := filepath.Join(w.root, metadataDirName, species)
	for _, d := range []string{imageDir, metaDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return &domain.WriteError{Species: species, RecordID: recordID, Systemic: true, Err: err}
		}
	}

	imagePath := w.ImagePath(species, recordID, ext)
	if err := writeAtomic(imagePath, image); err != nil {
		return &domain.WriteError{Species: species, RecordID: recordID, Err: err}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(imagePath)
		return &domain.WriteError{Species: species, RecordID: recordID, Err: err}
	}
	if err := writeAtomic(w.MetadataPath(species, recordID), data); err != nil {
		// Do not leave a committed image without its metadata.
		_ = os.Remove(imagePath)
		return &domain.WriteError{Species: species, RecordID: recordID, Err: err}
	}

	return nil
}

// writeAtomic writes data to a temporary sibling and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RepairResult reports what a startup repair scan found.
type RepairResult struct {
	RemovedImages []string // orphan images deleted (no metadata sibling)
	RemovedTemp   []string // stale temporary files deleted
	Corrupt       []string // metadata files without an image; never produced by this writer
}

// Repair scans the output tree and restores the pairing invariant after an
// interrupted run: stale temp files and orphan images are deleted. Metadata
// without an image cannot result from this writer's commit order and is
// reported rather than deleted.
// Parameters: none.
// Returns:
//   - *RepairResult: what was removed or flagged.
//   - error: non-nil on scan failure.
func (w *Writer) Repair() (*RepairResult, error) {
	result := &RepairResult{}

	err := w.walkPairs(func(species, stem, imagePath, metaPath string) error {
		switch {
		case imagePath != "" && metaPath == "":
			if err := os.Remove(imagePath); err != nil {
				return fmt.Errorf("failed to remove orphan image %s: %w", imagePath, err)
			}
			result.RemovedImages = append(result.RemovedImages, imagePath)
		case imagePath == "" && metaPath != "":
			result.Corrupt = append(result.Corrupt, metaPath)
		}
		return nil
	}, func(tmpPath string) error {
		if err := os.Remove(tmpPath); err != nil {
			return fmt.Errorf("failed to remove temp file %s: %w", tmpPath, err)
		}
		result.RemovedTemp = append(result.RemovedTemp, tmpPath)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// VerifyPairing checks that every image has a metadata sibling and vice
// versa.
// Parameters: none.
// Returns:
//   - []string: species/recordID stems missing one side of the pair.
//   - error: non-nil on scan failure.
func (w *Writer) VerifyPairing() ([]string, error) {
	var unpaired []string
	err := w.walkpairsNoTemp(func(species, stem, imagePath, metaPath string) error {
		if imagePath == "" || metaPath == "" {
			unpaired = append(unpaired, species+"/"+stem)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(unpaired)
	return unpaired, nil
}

// CountPairs returns the number of committed image/metadata pairs for a
// species.
func (w *Writer) CountPairs(species string) (int, error) {
	count := 0
	dir := filepath.Join(w.root, imagesDirName, species)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, err := os.Stat(w.MetadataPath(species, stem)); err == nil {
			count++
		}
	}
	return count, nil
}

// pairFn is called once per record stem with either path possibly empty.
type pairFn func(species, stem, imagePath, metaPath string) error

func (w *Writer) walkpairsNoTemp(fn pairFn) error {
	return w.walkPairs(fn, func(string) error { return nil })
}

// walkPairs visits every record stem under the output tree. tmpFn is called
// for leftover temporary files.
func (w *Writer) walkPairs(fn pairFn, tmpFn func(string) error) error {
	type sides struct {
		image string
		meta  string
	}

	pairs := make(map[string]map[string]*sides) // species -> stem -> sides

	get := func(species, stem string) *sides {
		if pairs[species] == nil {
			pairs[species] = make(map[string]*sides)
		}
		if pairs[species][stem] == nil {
			pairs[species][stem] = &sides{}
		}
		return pairs[species][stem]
	}

	scan := func(top string, isImage bool) error {
		topDir := filepath.Join(w.root, top)
		speciesDirs, err := os.ReadDir(topDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", topDir, err)
		}
		for _, sd := range speciesDirs {
			if !sd.IsDir() {
				continue
			}
			species := sd.Name()
			files, err := os.ReadDir(filepath.Join(topDir, species))
			if err != nil {
				return fmt.Errorf("failed to read species dir %s: %w", species, err)
			}
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				name := f.Name()
				full := filepath.Join(topDir, species, name)
				if strings.HasSuffix(name, tmpSuffix) {
					if err := tmpFn(full); err != nil {
						return err
					}
					continue
				}
				stem := strings.TrimSuffix(name, filepath.Ext(name))
				s := get(species, stem)
				if isImage {
					s.image = full
				} else {
					s.meta = full
				}
			}
		}
		return nil
	}

	if err := scan(imagesDirName, true); err != nil {
		return err
	}
	if err := scan(metadataDirName, false); err != nil {
		return err
	}

	// Deterministic visit order keeps repair logs stable.
	speciesNames := make([]string, 0, len(pairs))
	for sp := range pairs {
		speciesNames = append(speciesNames, sp)
	}
	sort.Strings(speciesNames)

	for _, sp := range speciesNames {
		stems := make([]string, 0, len(pairs[sp]))
		for stem := range pairs[sp] {
			stems = append(stems, stem)
		}
		sort.Strings(stems)
		for _, stem := range stems {
			s := pairs[sp][stem]
			if err := fn(sp, stem, s.image, s.meta); err != nil {
				return err
			}
		}
	}
	return nil
}
