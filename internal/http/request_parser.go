package http

// Request decoding helpers shared by the handlers. Bodies are JSON only;
// query parameters carry listing filters and mutation scopes.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kevindbotelho/fin-planner/internal/core"
	"github.com/kevindbotelho/fin-planner/internal/services"
)

// maxBodyBytes caps request bodies well above any legitimate payload.
const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty request body")

// decodeJSON reads the request body into dst. Unknown fields are rejected so
// a typo in a payload fails loudly instead of being silently dropped.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("malformed json: %w", err)
	}
	if dec.More() {
		return errors.New("request body must hold a single json value")
	}
	return nil
}

// pathID parses the {id} wildcard of the matched route.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// parseScope reads the scope query parameter of a scoped mutation. Absent
// means current, the conservative choice: only the addressed row is touched.
func parseScope(r *http.Request) (services.EditScope, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("scope"))
	if raw == "" {
		return services.ScopeCurrent, nil
	}
	scope := services.EditScope(raw)
	if !scope.Valid() {
		return "", fmt.Errorf("invalid scope %q: want %q or %q", raw, services.ScopeCurrent, services.ScopeFuture)
	}
	return scope, nil
}

// queryID parses an optional positive integer query parameter, returning 0
// when absent.
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryBool parses an optional boolean query parameter with a default.
func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

// parseExpenseFilter builds the listing filter from query parameters:
// template_id plus the half-open date window [from, to), all optional.
func parseExpenseFilter(r *http.Request) (services.ExpenseFilter, error) {
	var f services.ExpenseFilter

	templateID, err := queryID(r, "template_id")
	if err != nil {
		return f, err
	}
	if templateID != 0 {
		f.TemplateID = &templateID
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		d, err := core.ParseDate(raw)
		if err != nil {
			return f, fmt.Errorf("invalid from date %q", raw)
		}
		f.From = &d
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		d, err := core.ParseDate(raw)
		if err != nil {
			return f, fmt.Errorf("invalid to date %q", raw)
		}
		f.To = &d
	}
	return f, nil
}
