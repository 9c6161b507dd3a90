// Package sheets backs the family replica with a Google spreadsheet: one
// row per (family reference, budget id) holding the budget snapshot as
// JSON plus last-writer metadata. It implements only the document side of
// the replica contract; subscription fan-out comes from composing it with
// the AMQP bus (see replica/amqpsub).
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"bilancio/internal/core"
	"bilancio/internal/replica"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Row layout on the replica sheet.
// A: family_ref  B: budget_id  C: actor  D: updated_at  E: payload (JSON)
const (
	dataRange  = "!A2:E"
	rowColumns = 5
)

type Store struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ replica.Store = (*Store)(nil)

// NewFromEnv creates a replica store from environment variables.
// Required: GOOGLE_SPREADSHEET_ID. Optional: GOOGLE_SHEET_NAME (default
// "Replica"). Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Store, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheetName := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if sheetName == "" {
		sheetName = "Replica"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Store{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Get reassembles the family document from the rows carrying its family
// reference. The document's last-writer metadata is taken from the row
// with the newest updated_at.
func (s *Store) Get(ctx context.Context, familyRef string) (replica.Document, error) {
	rows, err := s.readRows(ctx)
	if err != nil {
		return replica.Document{}, err
	}

	doc := replica.Document{FamilyRef: familyRef}
	found := false
	for _, row := range rows {
		if row.familyRef != familyRef {
			continue
		}
		found = true
		var b core.Budget
		if err := json.Unmarshal([]byte(row.payload), &b); err != nil {
			return replica.Document{}, fmt.Errorf("decode budget %s: %w", row.budgetID, err)
		}
		doc.Budgets = append(doc.Budgets, b)
		at, err := core.FromWire(row.updatedAt)
		if err != nil {
			return replica.Document{}, fmt.Errorf("decode updated_at for %s: %w", row.budgetID, err)
		}
		if at.After(doc.UpdatedAt) || doc.Actor == "" {
			doc.Actor = row.actor
			doc.UpdatedAt = at
		}
	}
	if !found {
		return replica.Document{}, replica.ErrNotFound
	}
	return doc, nil
}

// SetBudget overwrites the row for (familyRef, budget id), appending a new
// row when the budget has never been written. One whole-record write per
// call, matching the one-round-trip-per-budget push contract.
func (s *Store) SetBudget(ctx context.Context, familyRef string, b core.Budget, actor string, at core.Timestamp) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode budget %s: %w", b.ID, err)
	}
	values := []any{familyRef, b.ID, actor, at.Wire(), string(payload)}

	rows, err := s.readRows(ctx)
	if err != nil && !errors.Is(err, replica.ErrNotFound) {
		return err
	}
	for _, row := range rows {
		if row.familyRef != familyRef || row.budgetID != b.ID {
			continue
		}
		rng := fmt.Sprintf("%s!A%d:E%d", s.sheetName, row.index, row.index)
		vr := &gsheet.ValueRange{Values: [][]any{values}}
		if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return fmt.Errorf("update replica row: %w", err)
		}
		return nil
	}

	vr := &gsheet.ValueRange{Values: [][]any{values}}
	if _, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+dataRange, vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
		return fmt.Errorf("append replica row: %w", err)
	}
	return nil
}

type sheetRow struct {
	index     int // 1-based spreadsheet row number
	familyRef string
	budgetID  string
	actor     string
	updatedAt string
	payload   string
}

func (s *Store) readRows(ctx context.Context) ([]sheetRow, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+dataRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read replica sheet: %w", err)
	}

	rows := make([]sheetRow, 0, len(resp.Values))
	for i, raw := range resp.Values {
		if len(raw) < rowColumns {
			continue // header leftovers or manually truncated rows
		}
		rows = append(rows, sheetRow{
			index:     i + 2, // data starts on row 2
			familyRef: cellString(raw[0]),
			budgetID:  cellString(raw[1]),
			actor:     cellString(raw[2]),
			updatedAt: cellString(raw[3]),
			payload:   cellString(raw[4]),
		})
	}
	return rows, nil
}

func cellString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
