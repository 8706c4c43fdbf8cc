package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"github.com/kevindbotelho/fin-planner/internal/export"
)

// Client exports ledger lines to a Google spreadsheet. Lines land on a
// year-prefixed tab ("2026 Ledger"), one tab per calendar year of the
// purchase date.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ledgerBase    string
}

var (
	_ export.LedgerAppender = (*Client)(nil)
	_ export.LedgerRemover  = (*Client)(nil)
)

// NewFromEnv creates a Sheets client from environment variables.
// Required: GOOGLE_SPREADSHEET_ID.
// Optional: GOOGLE_LEDGER_SHEET_NAME (default "Ledger").
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE,
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	ledgerBase := strings.TrimSpace(os.Getenv("GOOGLE_LEDGER_SHEET_NAME"))
	if ledgerBase == "" {
		ledgerBase = "Ledger"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		ledgerBase:    ledgerBase,
	}, nil
}

// newSheetsService initializes a Sheets service using service account
// credentials, inline JSON first, then a credentials file.
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

	slog.InfoContext(ctx, "google sheets service ready")
	return service, nil
}

// Append writes the line to the next free row of the year's ledger tab and
// returns a reference to the written range.
func (c *Client) Append(ctx context.Context, l export.Line) (string, error) {
	if err := l.Validate(); err != nil {
		return "", fmt.Errorf("invalid ledger line: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	return c.appendValues(ctx, c.sheetFor(l), lineValues(l))
}

// Remove books the compensating entry for a previously exported line: the
// same row with the amount negated and the description marked as a reversal.
func (c *Client) Remove(ctx context.Context, l export.Line) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid ledger line: %w", err)
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	ref, err := c.appendValues(ctx, c.sheetFor(l), reversalValues(l))
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "ledger reversal written", "ref", ref)
	return nil
}

func (c *Client) appendValues(ctx context.Context, sheetName string, values []any) (string, error) {
	// Find the next empty row from the current sheet height.
	rng := fmt.Sprintf("%s!A:A", sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get dimensions of sheet %s: %w", sheetName, err)
	}
	nextRow := len(resp.Values) + 1

	dataRange := fmt.Sprintf("%s!A%d:F%d", sheetName, nextRow, nextRow)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("update sheet %s row %d: %w", sheetName, nextRow, err)
	}
	return dataRange, nil
}

func (c *Client) sheetFor(l export.Line) string {
	return yearPrefixedName(c.ledgerBase, l.Date.Year())
}

// lineValues lays a line out as the sheet columns A:F, in order date,
// description, amount in euros, category, subcategory, period name.
func lineValues(l export.Line) []any {
	sub := ""
	if l.SubcategoryID != nil {
		sub = strconv.FormatInt(*l.SubcategoryID, 10)
	}
	return []any{
		l.Date.String(),
		l.Description,
		centsToEuros(l.Amount.Cents),
		l.CategoryID,
		sub,
		l.Period,
	}
}

func reversalValues(l export.Line) []any {
	values := lineValues(l)
	values[1] = "Storno: " + l.Description
	values[2] = centsToEuros(-l.Amount.Cents)
	return values
}

func centsToEuros(cents int64) float64 {
	return float64(cents) / 100.0
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a
// 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
