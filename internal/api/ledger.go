package api

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	errLedgerDirUnset   = errors.New("ledger directory is not configured")
	errOutsideLedgerDir = errors.New("ledger path is outside the ledger directory")
	errLedgerUnreadable = errors.New("ledger not found or not readable")
)

// ledgerRoots returns the configured ledger directory in absolute and
// symlink-resolved form.
func ledgerRoots(dir string) []string {
	if dir == "" {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil
	}
	roots := []string{abs}
	if real, err := filepath.EvalSymlinks(abs); err == nil && real != abs {
		roots = append(roots, real)
	}
	return roots
}

// resolveLedger maps a client-supplied path onto a file inside the ledger
// directory. Relative paths are taken relative to it.
func (h *Handler) resolveLedger(raw string) (string, error) {
	if len(h.ledgerRoots) == 0 {
		return "", errLedgerDirUnset
	}

	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.ledgerRoots[0], p)
	}
	p = filepath.Clean(p)
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}

	for _, root := range h.ledgerRoots {
		if within(root, p) {
			return p, nil
		}
	}
	return "", errOutsideLedgerDir
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
