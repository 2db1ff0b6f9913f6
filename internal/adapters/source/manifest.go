package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/townin/geocore/internal/core/domain"
)

// Manifest lists the upstream feed per dataset kind.
type Manifest struct {
	Source   string         `json:"source"`
	Datasets []DatasetEntry `json:"datasets"`
}

// DatasetEntry points one dataset kind at its feed. URL may be an http(s)
// address or a local file path. Format is "json" or "csv"; empty means json.
type DatasetEntry struct {
	Kind   string `json:"kind"`
	URL    string `json:"url"`
	Format string `json:"format,omitempty"`
}

// ManifestSource fetches and decodes dataset batches per a manifest file.
// It implements ports.BatchSource.
type ManifestSource struct {
	manifest Manifest
	client   *http.Client
}

// Load reads a manifest file and returns a source backed by it.
func Load(path string) (*ManifestSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &ManifestSource{
		manifest: m,
		client:   &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Datasets returns the kinds the manifest covers.
func (s *ManifestSource) Datasets() []string {
	out := make([]string, 0, len(s.manifest.Datasets))
	for _, d := range s.manifest.Datasets {
		out = append(out, d.Kind)
	}
	return out
}

// Fetch downloads and decodes one dataset's batch.
func (s *ManifestSource) Fetch(ctx context.Context, kind domain.DatasetKind) ([]domain.RawExternalRecord, error) {
	var entry *DatasetEntry
	for i := range s.manifest.Datasets {
		if s.manifest.Datasets[i].Kind == string(kind) {
			entry = &s.manifest.Datasets[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("no manifest entry for dataset %s", kind)
	}

	body, err := s.read(ctx, entry.URL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	switch strings.ToLower(entry.Format) {
	case "", "json":
		return decodeJSON(body)
	case "csv":
		return decodeCSV(body)
	default:
		return nil, fmt.Errorf("unsupported format %q for dataset %s", entry.Format, kind)
	}
}

func (s *ManifestSource) read(ctx context.Context, url string) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
		}
		return resp.Body, nil
	}

	f, err := os.Open(url)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	return f, nil
}

func decodeJSON(r io.Reader) ([]domain.RawExternalRecord, error) {
	var records []domain.RawExternalRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return records, nil
}

// decodeCSV maps the conventional upstream columns onto records. Columns
// beyond the known ones land in Metadata as strings.
func decodeCSV(r io.Reader) ([]domain.RawExternalRecord, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := indexColumns(header)
	for _, required := range []string{"external_id", "lat", "lon"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv missing column %q", required)
		}
	}

	var records []domain.RawExternalRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		lat, _ := strconv.ParseFloat(getField(row, cols, "lat"), 64)
		lon, _ := strconv.ParseFloat(getField(row, cols, "lon"), 64)

		rec := domain.RawExternalRecord{
			ExternalID: getField(row, cols, "external_id"),
			Name:       getField(row, cols, "name"),
			Lat:        lat,
			Lon:        lon,
		}
		for name, idx := range cols {
			switch name {
			case "external_id", "name", "lat", "lon":
				continue
			}
			if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
				if rec.Metadata == nil {
					rec.Metadata = make(map[string]any)
				}
				rec.Metadata[name] = strings.TrimSpace(row[idx])
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func indexColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		// Strip BOM from first column
		col = strings.TrimPrefix(col, "\xef\xbb\xbf")
		m[strings.TrimSpace(col)] = i
	}
	return m
}

func getField(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
