package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "SELECT Id FROM Account", "select id from account"},
		{"collapses whitespace", "select  id\n\tfrom   account", "select id from account"},
		{"trims", "  select id from account  ", "select id from account"},
		{"empty", "", ""},
		{"whitespace only", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	key := Normalize("SELECT  Id FROM Account")
	assert.Equal(t, key, Normalize(key))
}

func TestSession_Label(t *testing.T) {
	s := &Session{QueryText: "select id from account", ObjectName: "Account"}
	assert.Equal(t, "Account", s.Label())

	s = &Session{QueryText: "select id from account"}
	assert.Equal(t, "select id from account", s.Label())

	long := "select id, name, industry from account where industry = 'tech'"
	s = &Session{QueryText: long}
	label := s.Label()
	assert.True(t, strings.HasSuffix(label, "…"))
	assert.Equal(t, labelBudget, len([]rune(label))-1)
}

func TestSession_LabelTruncatesRunesNotBytes(t *testing.T) {
	s := &Session{QueryText: strings.Repeat("ü", labelBudget+10)}
	label := s.Label()
	assert.Equal(t, strings.Repeat("ü", labelBudget)+"…", label)
}
