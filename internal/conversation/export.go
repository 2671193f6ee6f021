package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/liumaishenjian/natural-language-to-sql/internal/nl2sql"
	"github.com/liumaishenjian/natural-language-to-sql/internal/storage"
)

const (
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

type ExportResult struct {
	Key     string             `json:"key"`
	Format  string             `json:"format"`
	Entries int                `json:"entries"`
	Object  storage.ObjectInfo `json:"object"`
}

// Exporter writes session snapshots to an object store.
type Exporter struct {
	store  storage.ObjectStore
	format string
}

func NewExporter(store storage.ObjectStore, format string) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatJSON
	}
	switch format {
	case FormatJSON, FormatParquet:
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	return &Exporter{store: store, format: format}, nil
}

func (e *Exporter) Format() string {
	return e.format
}

func (e *Exporter) Export(ctx context.Context, snapshot Snapshot) (ExportResult, error) {
	key, err := storage.BuildExportKey(snapshot.SessionInfo.SessionID, snapshot.SessionInfo.ExportTime, e.format)
	if err != nil {
		return ExportResult{}, err
	}

	var (
		data        []byte
		contentType string
	)
	switch e.format {
	case FormatParquet:
		data, err = EncodeParquet(snapshot)
		contentType = "application/vnd.apache.parquet"
	default:
		data, err = EncodeJSON(snapshot)
		contentType = "application/json"
	}
	if err != nil {
		return ExportResult{}, err
	}

	info, err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"session-id": snapshot.SessionInfo.SessionID,
			"entries":    strconv.Itoa(len(snapshot.Conversation)),
		},
	})
	if err != nil {
		return ExportResult{}, fmt.Errorf("put export %s: %w", key, err)
	}
	return ExportResult{
		Key:     key,
		Format:  e.format,
		Entries: len(snapshot.Conversation),
		Object:  info,
	}, nil
}

func EncodeJSON(snapshot Snapshot) ([]byte, error) {
	if snapshot.Conversation == nil {
		snapshot.Conversation = []Turn{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export json: %w", err)
	}
	return append(data, '\n'), nil
}

type parquetTurn struct {
	SessionID       string `parquet:"session_id"`
	Seq             int64  `parquet:"seq"`
	Role            string `parquet:"role"`
	Text            string `parquet:"text"`
	SQL             string `parquet:"sql"`
	Succeeded       *bool  `parquet:"succeeded,optional"`
	Error           string `parquet:"error"`
	TimestampUnixMs int64  `parquet:"timestamp_unix_ms"`
}

// EncodeParquet writes one row per turn. Session level fields are repeated on
// every row; an empty session yields a file with no rows.
func EncodeParquet(snapshot Snapshot) ([]byte, error) {
	rows := make([]parquetTurn, 0, len(snapshot.Conversation))
	for i, turn := range snapshot.Conversation {
		rows = append(rows, parquetTurn{
			SessionID:       snapshot.SessionInfo.SessionID,
			Seq:             int64(i),
			Role:            string(turn.Role),
			Text:            turn.Text,
			SQL:             turn.SQL,
			Succeeded:       turn.Succeeded,
			Error:           turn.Error,
			TimestampUnixMs: turn.Timestamp.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetTurn](buf)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads rows written by EncodeParquet.
func DecodeParquet(data []byte) ([]Turn, error) {
	reader := parquet.NewGenericReader[parquetTurn](bytes.NewReader(data))
	defer reader.Close()

	rows := make([]parquetTurn, reader.NumRows())
	if len(rows) == 0 {
		return []Turn{}, nil
	}
	n, err := reader.Read(rows)
	if err != nil && n < len(rows) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	turns := make([]Turn, 0, n)
	for _, row := range rows[:n] {
		turns = append(turns, Turn{
			Role:      roleFromString(row.Role),
			Text:      row.Text,
			SQL:       row.SQL,
			Succeeded: row.Succeeded,
			Error:     row.Error,
			Timestamp: timeFromUnixMs(row.TimestampUnixMs),
		})
	}
	return turns, nil
}

func roleFromString(value string) nl2sql.Role {
	switch nl2sql.Role(value) {
	case nl2sql.RoleAssistant:
		return nl2sql.RoleAssistant
	case nl2sql.RoleSystem:
		return nl2sql.RoleSystem
	default:
		return nl2sql.RoleUser
	}
}

func timeFromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
