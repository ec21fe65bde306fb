package canvas

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// maxArchiveLine bounds one document line of an archive.
const maxArchiveLine = 64 << 20

// Export writes every canvas of owner to path, one document per line. The
// file is replaced atomically. It returns the number of canvases written.
func (s *Service) Export(ctx context.Context, owner, path string) (n int, err error) {
	defer guard("export canvases", &err)
	if err := requireOwner(owner); err != nil {
		return 0, err
	}
	summaries, err := s.store.ListCanvases(ctx, owner)
	if err != nil {
		return 0, err
	}
	records := make([]json.RawMessage, 0, len(summaries))
	for _, sum := range summaries {
		cv, err := s.store.GetCanvas(ctx, owner, sum.ID)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		raw, err := json.Marshal(cv.Document())
		if err != nil {
			return 0, errors.Wrapf(err, "encode canvas %s", cv.ID)
		}
		records = append(records, raw)
	}
	if err := writeJSONL(path, records); err != nil {
		return 0, err
	}
	log.Debug().Int("canvases", len(records)).Str("path", path).Msg("canvas archive: exported")
	return len(records), nil
}

// Import saves every document in the archive at path as a manual save for
// owner. Lines that do not parse, or carry no id, are skipped. It returns
// the number of canvases saved.
func (s *Service) Import(ctx context.Context, owner, path string) (n int, err error) {
	defer guard("import canvases", &err)
	if err := requireOwner(owner); err != nil {
		return 0, err
	}
	records, err := readJSONL(path)
	if err != nil {
		return 0, err
	}
	for _, raw := range records {
		var doc types.Document
		if err := json.Unmarshal(raw, &doc); err != nil || doc.ID == "" {
			log.Warn().Str("path", path).Msg("canvas archive: skipping unreadable document")
			continue
		}
		if _, err := s.Save(ctx, owner, types.SaveRequest{
			ID:       doc.ID,
			Title:    doc.Title,
			Nodes:    doc.Nodes,
			Edges:    doc.Edges,
			Note:     doc.Note,
			Viewport: doc.Viewport,
			Options:  types.SaveOptions{SaveType: types.SaveTypeManual},
		}); err != nil {
			return n, errors.Wrapf(err, "import canvas %s", doc.ID)
		}
		n++
	}
	log.Debug().Int("canvases", n).Str("path", path).Msg("canvas archive: imported")
	return n, nil
}

// readJSONL returns each non-empty, well-formed line of path.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxArchiveLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	return records, nil
}

// writeJSONL writes records to path through a synced temp file and a rename.
func writeJSONL(path string, records []json.RawMessage) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".easel-*.jsonl.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return errors.Wrap(err, "write record")
		}
		if err := w.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "write newline")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}
