package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fxreport/internal/rates"
)

// Archive keeps raw provider payloads as exchange_rates_<date>.json files.
type Archive struct {
	dir string
}

// NewArchive returns an archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir}
}

// Path returns the snapshot location for date.
func (a *Archive) Path(date time.Time) string {
	return filepath.Join(a.dir, fmt.Sprintf("exchange_rates_%s.json", rates.FormatDate(date)))
}

// Save writes payload for date, replacing any previous snapshot.
func (a *Archive) Save(date time.Time, payload []byte) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	path := a.Path(date)
	tmp, err := os.CreateTemp(a.dir, ".exchange_rates-*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for date.
func (a *Archive) Load(date time.Time) ([]byte, error) {
	return os.ReadFile(a.Path(date))
}

// SnapshotFetcher replays archived payloads instead of calling the provider.
type SnapshotFetcher struct {
	archive *Archive
}

// NewSnapshotFetcher reads snapshots from archive.
func NewSnapshotFetcher(archive *Archive) *SnapshotFetcher {
	return &SnapshotFetcher{archive: archive}
}

// Fetch decodes the archived payload for date. Symbols and base are checked by validation.
func (s *SnapshotFetcher) Fetch(ctx context.Context, date time.Time, _ []string, _ string) (rates.RateSet, error) {
	if err := ctx.Err(); err != nil {
		return rates.RateSet{}, &FetchError{Kind: KindTransport, Date: date, Err: err}
	}
	date = rates.Date(date)
	payload, err := s.archive.Load(date)
	if err != nil {
		msg := "read snapshot"
		if errors.Is(err, os.ErrNotExist) {
			msg = "snapshot not found"
		}
		return rates.RateSet{}, &FetchError{Kind: KindTransport, Date: date, Message: msg, Err: err}
	}
	set, err := Decode(payload)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Date = date
			return rates.RateSet{}, fe
		}
		return rates.RateSet{}, &FetchError{Kind: KindPayload, Date: date, Err: err}
	}
	return set, nil
}

var _ Fetcher = (*SnapshotFetcher)(nil)
