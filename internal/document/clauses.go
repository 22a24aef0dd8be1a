package document

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"handbookrag/internal/domain"
)

// ReadClauses decodes a JSON array of clause records in document order.
// Each element is either a single-key object {"<clause_id>": "<body>"}
// or an object with "clause_id" and "body" fields.
func ReadClauses(r io.Reader) ([]domain.ClauseRecord, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	var records []domain.ClauseRecord
	seen := make(map[string]int)
	for dec.More() {
		rec, err := readRecord(dec, len(records))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[rec.ClauseID]; dup {
			return nil, fmt.Errorf("%w: %q at records %d and %d", domain.ErrDuplicateClause, rec.ClauseID, prev, len(records))
		}
		seen[rec.ClauseID] = len(records)
		records = append(records, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return records, nil
}

func readRecord(dec *json.Decoder, n int) (domain.ClauseRecord, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return domain.ClauseRecord{}, fmt.Errorf("record %d: %w", n, err)
	}
	var keys, values []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return domain.ClauseRecord{}, fmt.Errorf("%w: record %d: %w", domain.ErrStructuring, n, err)
		}
		key, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return domain.ClauseRecord{}, fmt.Errorf("%w: record %d key %q: %w", domain.ErrStructuring, n, key, err)
		}
		keys = append(keys, key)
		values = append(values, value)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return domain.ClauseRecord{}, fmt.Errorf("record %d: %w", n, err)
	}

	var rec domain.ClauseRecord
	switch {
	case len(keys) == 2 && hasFields(keys):
		for i, k := range keys {
			if k == "clause_id" {
				rec.ClauseID = values[i]
			} else {
				rec.Body = values[i]
			}
		}
	case len(keys) == 1:
		rec = domain.ClauseRecord{ClauseID: keys[0], Body: values[0]}
	default:
		return rec, fmt.Errorf("%w: record %d has %d keys", domain.ErrStructuring, n, len(keys))
	}
	if rec.ClauseID == "" {
		return rec, fmt.Errorf("%w: record %d has an empty clause id", domain.ErrStructuring, n)
	}
	return rec, nil
}

func hasFields(keys []string) bool {
	return (keys[0] == "clause_id" && keys[1] == "body") || (keys[0] == "body" && keys[1] == "clause_id")
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: %w", domain.ErrStructuring, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", domain.ErrStructuring, want, tok)
	}
	return nil
}

// WriteClauses encodes records as an indented JSON array of single-key
// objects. Non-ASCII text is written as UTF-8.
func WriteClauses(w io.Writer, records []domain.ClauseRecord) error {
	bw := bufio.NewWriter(w)
	if len(records) == 0 {
		bw.WriteString("[]\n")
		return bw.Flush()
	}
	bw.WriteString("[\n")
	for i, r := range records {
		k, err := marshalString(r.ClauseID)
		if err != nil {
			return err
		}
		v, err := marshalString(r.Body)
		if err != nil {
			return err
		}
		fmt.Fprintf(bw, "  {\n    %s: %s\n  }", k, v)
		if i < len(records)-1 {
			bw.WriteString(",")
		}
		bw.WriteString("\n")
	}
	bw.WriteString("]\n")
	return bw.Flush()
}

func marshalString(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// ReadClausesFile reads a clause file from disk.
func ReadClausesFile(path string) ([]domain.ClauseRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadClauses(f)
}

// WriteClausesFile writes records to path, replacing any existing file.
func WriteClausesFile(path string, records []domain.ClauseRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteClauses(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Fingerprint identifies a clause set. Any change to ids, bodies or
// order changes the result.
func Fingerprint(records []domain.ClauseRecord) string {
	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(r.ClauseID))
		h.Write([]byte{0})
		h.Write([]byte(r.Body))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
