package document

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handbookrag/internal/domain"
)

var records = []domain.ClauseRecord{
	{ClauseID: "第一条", Body: "试用期为三个月。"},
	{ClauseID: "Article 2", Body: "Annual leave is 10 days & \"paid\"."},
}

func TestReadClauses_SingleKeyForm(t *testing.T) {
	in := `[{"Article 1": "Employees must arrive by 9am."}, {"Article 2": "Annual leave is 10 days."}]`

	got, err := ReadClauses(strings.NewReader(in))

	require.NoError(t, err)
	assert.Equal(t, []domain.ClauseRecord{
		{ClauseID: "Article 1", Body: "Employees must arrive by 9am."},
		{ClauseID: "Article 2", Body: "Annual leave is 10 days."},
	}, got)
}

func TestReadClauses_ExplicitForm(t *testing.T) {
	in := `[{"clause_id": "Article 9", "body": "b9"}, {"body": "b1", "clause_id": "Article 1"}]`

	got, err := ReadClauses(strings.NewReader(in))

	require.NoError(t, err)
	assert.Equal(t, []string{"Article 9", "Article 1"}, []string{got[0].ClauseID, got[1].ClauseID})
	assert.Equal(t, "b1", got[1].Body)
}

func TestReadClauses_MixedForms(t *testing.T) {
	in := `[{"A": "a"}, {"clause_id": "B", "body": "b"}]`

	got, err := ReadClauses(strings.NewReader(in))

	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadClauses_Duplicate(t *testing.T) {
	_, err := ReadClauses(strings.NewReader(`[{"A": "x"}, {"clause_id": "A", "body": "y"}]`))
	assert.ErrorIs(t, err, domain.ErrDuplicateClause)
}

func TestReadClauses_Malformed(t *testing.T) {
	for name, in := range map[string]string{
		"not array":   `{"A": "x"}`,
		"two keys":    `[{"A": "x", "B": "y"}]`,
		"number body": `[{"A": 1}]`,
		"empty id":    `[{"": "x"}]`,
		"truncated":   `[{"A": "x"}`,
		"empty input": ``,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadClauses(strings.NewReader(in))
			assert.ErrorIs(t, err, domain.ErrStructuring)
		})
	}
}

func TestWriteClauses_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteClauses(&buf, records))

	out := buf.String()
	assert.Contains(t, out, `"第一条": "试用期为三个月。"`)
	assert.Contains(t, out, `& \"paid\"`)
	assert.True(t, strings.HasPrefix(out, "[\n  {\n    "))

	got, err := ReadClauses(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestWriteClauses_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteClauses(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())

	got, err := ReadClauses(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClausesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handbook.json")
	require.NoError(t, WriteClausesFile(path, records))

	got, err := ReadClausesFile(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(records)
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint(append([]domain.ClauseRecord(nil), records...)))

	reordered := []domain.ClauseRecord{records[1], records[0]}
	assert.NotEqual(t, a, Fingerprint(reordered))

	edited := append([]domain.ClauseRecord(nil), records...)
	edited[0].Body += " "
	assert.NotEqual(t, a, Fingerprint(edited))
}

func TestLoadText(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "handbook.txt")
	require.NoError(t, os.WriteFile(txt, append([]byte{0xEF, 0xBB, 0xBF}, []byte("Article 1 Hi")...), 0o644))

	got, err := LoadText(txt)
	require.NoError(t, err)
	assert.Equal(t, "Article 1 Hi", got)

	_, err = LoadText(filepath.Join(dir, "handbook.docx"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = LoadText(filepath.Join(dir, "missing.md"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractPDFText_Empty(t *testing.T) {
	got, err := ExtractPDFText(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ExtractPDFText(strings.NewReader("not a pdf"))
	assert.Error(t, err)
}
