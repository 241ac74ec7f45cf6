package compress

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jra3/contexthub/internal/errs"
)

const stateFileName = "compress_state.json"

type persistedState struct {
	LastCompress     time.Time `json:"last_compress"`
	LastSnapshotSize int64     `json:"last_snapshot_size"`
}

// LoadState restores lastCompress/lastSnapshotSize from
// <dataDir>/compress_state.json if present, so a restart doesn't forget
// how large the last snapshot was (spec §9's persistence option).
// Absence of the file is not an error: a fresh store simply starts with
// zero values, which ShouldCompress treats as "always compress".
func (svc *Service) LoadState(dataDir string) error {
	path := filepath.Join(dataDir, stateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap("compress.load_state", errs.IO, err)
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return errs.Wrap("compress.load_state", errs.Serialization, err)
	}

	svc.mu.Lock()
	svc.lastCompress = st.LastCompress
	svc.lastSnapshotSize = st.LastSnapshotSize
	svc.mu.Unlock()
	return nil
}

// saveState writes the current lastCompress/lastSnapshotSize to
// <dataDir>/compress_state.json, via write-temp-then-rename for
// atomicity.
func (svc *Service) saveState(dataDir string) error {
	svc.mu.RLock()
	st := persistedState{LastCompress: svc.lastCompress, LastSnapshotSize: svc.lastSnapshotSize}
	svc.mu.RUnlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errs.Wrap("compress.save_state", errs.Serialization, err)
	}

	path := filepath.Join(dataDir, stateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap("compress.save_state", errs.IO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap("compress.save_state", errs.IO, err)
	}
	return nil
}
