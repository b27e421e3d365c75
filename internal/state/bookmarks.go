package state

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rescale/rescale-gallery/internal/models"
)

// BookmarkStore persists the last viewport window and selection per listing
// path between CLI invocations, as a CSV file.
type BookmarkStore struct {
	stateDir  string
	stateFile string
}

// Bookmark is the saved state of one listing path.
type Bookmark struct {
	Path      string
	Page      int
	PageSize  int
	Anchor    models.ListingID
	Selected  []models.ListingID
	Timestamp time.Time
}

var bookmarkHeader = []string{"Path", "Page", "PageSize", "Anchor", "Selected", "Timestamp"}

// NewBookmarkStore creates a store at stateFilePath, creating its directory.
func NewBookmarkStore(stateFilePath string) (*BookmarkStore, error) {
	absPath, err := filepath.Abs(stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	stateDir := filepath.Dir(absPath)
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &BookmarkStore{
		stateDir:  stateDir,
		stateFile: filepath.Base(absPath),
	}, nil
}

// Path returns the full path to the state file.
func (bs *BookmarkStore) Path() string {
	return filepath.Join(bs.stateDir, bs.stateFile)
}

// LoadAll loads every bookmark. A missing file yields an empty list.
func (bs *BookmarkStore) LoadAll() ([]Bookmark, error) {
	file, err := os.Open(bs.Path())
	if os.IsNotExist(err) {
		return []Bookmark{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	startIdx := 0
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == bookmarkHeader[0] {
		startIdx = 1
	}

	marks := make([]Bookmark, 0, len(rows)-startIdx)
	for _, row := range rows[startIdx:] {
		if len(row) < len(bookmarkHeader) {
			continue // Skip invalid rows
		}

		page, _ := strconv.Atoi(row[1])
		pageSize, _ := strconv.Atoi(row[2])
		ts, _ := time.Parse(time.RFC3339, row[5])

		var selected []models.ListingID
		if row[4] != "" {
			for _, id := range strings.Split(row[4], ";") {
				selected = append(selected, models.ListingID(id))
			}
		}

		marks = append(marks, Bookmark{
			Path:      row[0],
			Page:      page,
			PageSize:  pageSize,
			Anchor:    models.ListingID(row[3]),
			Selected:  selected,
			Timestamp: ts,
		})
	}

	return marks, nil
}

// SaveAll writes all bookmarks, replacing the file atomically.
func (bs *BookmarkStore) SaveAll(marks []Bookmark) error {
	tmpPath := bs.Path() + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create state file: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(bookmarkHeader); err != nil {
		file.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, m := range marks {
		ids := make([]string, len(m.Selected))
		for i, id := range m.Selected {
			ids[i] = string(id)
		}
		row := []string{
			m.Path,
			strconv.Itoa(m.Page),
			strconv.Itoa(m.PageSize),
			string(m.Anchor),
			strings.Join(ids, ";"),
			m.Timestamp.Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			file.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush state file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}

	return os.Rename(tmpPath, bs.Path())
}

// Put updates or adds the bookmark for m.Path.
func (bs *BookmarkStore) Put(m Bookmark) error {
	marks, err := bs.LoadAll()
	if err != nil {
		return err
	}

	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	found := false
	for i, cur := range marks {
		if cur.Path == m.Path {
			marks[i] = m
			found = true
			break
		}
	}
	if !found {
		marks = append(marks, m)
	}

	return bs.SaveAll(marks)
}

// Get returns the bookmark for path, or nil when there is none.
func (bs *BookmarkStore) Get(path string) (*Bookmark, error) {
	marks, err := bs.LoadAll()
	if err != nil {
		return nil, err
	}

	for _, m := range marks {
		if m.Path == path {
			return &m, nil
		}
	}
	return nil, nil
}

// Capture builds a bookmark from a session's current selection.
func Capture(s *Session, page, pageSize int) Bookmark {
	return Bookmark{
		Path:     s.Path,
		Page:     page,
		PageSize: pageSize,
		Anchor:   s.Selection.Anchor(),
		Selected: s.Selection.Selected(),
	}
}

// Restore reapplies a bookmark's selection to the session. Ids that are
// no longer part of the listing are skipped. The restored set is then
// trimmed to rendered by the caller's next Retain.
func Restore(s *Session, m *Bookmark) {
	if m == nil {
		return
	}
	s.Selection.restore(s.Store, m.Selected, m.Anchor)
}
