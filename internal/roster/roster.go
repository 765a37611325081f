// internal/roster/roster.go
package roster

import "autoref/internal/models"

// The room reports occupants by display name only, so the display name is
// the one identity key for every comparison here. All three functions are
// pure set operations over that key; they never compare records by pointer
// or full struct equality, so independently-allocated records with the same
// name classify identically.

// Missing returns the expected participants whose display name does not
// appear among the live members, preserving the order of expected.
func Missing(expected []models.Participant, live []models.Participant) []models.Participant {
	names := nameSet(live)
	out := []models.Participant{}
	for _, p := range expected {
		if !names[p.DisplayName] {
			out = append(out, p)
		}
	}
	return out
}

// Present returns the expected participants whose display name appears
// among the live members, preserving the order of expected.
func Present(expected []models.Participant, live []models.Participant) []models.Participant {
	names := nameSet(live)
	out := []models.Participant{}
	for _, p := range expected {
		if names[p.DisplayName] {
			out = append(out, p)
		}
	}
	return out
}

// Unauthorized returns the live members whose display name is not in the
// authorized set (participants plus referees). Each such occupant is kicked
// from the room as soon as it is observed, regardless of match state.
func Unauthorized(live []models.Participant, authorized []models.Participant) []models.Participant {
	names := nameSet(authorized)
	out := []models.Participant{}
	for _, p := range live {
		if !names[p.DisplayName] {
			out = append(out, p)
		}
	}
	return out
}

// Names flattens participants to their identity keys.
func Names(ps []models.Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.DisplayName
	}
	return out
}

func nameSet(ps []models.Participant) map[string]bool {
	m := make(map[string]bool, len(ps))
	for _, p := range ps {
		m[p.DisplayName] = true
	}
	return m
}
