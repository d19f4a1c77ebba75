package session

import (
	"strings"
	"time"

	"github.com/tiger/mari-voice/providers/auth/supabase"
)

const notInformed = "Não informado"

// Summary is the profile menu shown to a signed-in user.
type Summary struct {
	FirstName string
	FullName  string
	Phone     string
	Gender    string
	BirthDate string
	Location  string
}

// Summarize renders p for display.
func Summarize(p supabase.Profile) Summary {
	return Summary{
		FirstName: FirstName(p.Name),
		FullName:  p.Name,
		Phone:     orNotInformed(p.Phone),
		Gender:    orNotInformed(p.Gender),
		BirthDate: FormatBirthDate(p.BirthDate),
		Location:  Location(p.City, p.State),
	}
}

// FirstName is the first space-separated word of name.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// FormatBirthDate renders an ISO date as dd/mm/yyyy.
func FormatBirthDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return notInformed
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return notInformed
}

// Location joins city and state, falling back to whichever is set.
func Location(city, state string) string {
	city, state = strings.TrimSpace(city), strings.TrimSpace(state)
	switch {
	case city != "" && state != "":
		return city + ", " + state
	case state != "":
		return state
	case city != "":
		return city
	default:
		return notInformed
	}
}

func orNotInformed(v string) string {
	if strings.TrimSpace(v) == "" {
		return notInformed
	}
	return v
}
