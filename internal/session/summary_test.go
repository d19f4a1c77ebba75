package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tiger/mari-voice/providers/auth/supabase"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	got := Summarize(supabase.Profile{Name: "Ana Maria Souza", BirthDate: "1990-05-20", City: "Campinas", State: "SP"})
	assert.Equal(t, Summary{
		FirstName: "Ana",
		FullName:  "Ana Maria Souza",
		Phone:     "Não informado",
		Gender:    "Não informado",
		BirthDate: "20/05/1990",
		Location:  "Campinas, SP",
	}, got)
}

func TestFormatBirthDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Não informado", FormatBirthDate(""))
	assert.Equal(t, "Não informado", FormatBirthDate("ontem"))
	assert.Equal(t, "01/02/2000", FormatBirthDate("2000-02-01"))
	assert.Equal(t, "01/02/2000", FormatBirthDate("2000-02-01T10:00:00Z"))
}

func TestLocation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SP", Location("", "SP"))
	assert.Equal(t, "Campinas", Location("Campinas", " "))
	assert.Equal(t, "Não informado", Location("", ""))
}
