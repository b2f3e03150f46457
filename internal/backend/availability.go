package backend

import "strings"

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Sim}
	if Has(ATMI) {
		entries = append(entries, ATMI)
	}
	return strings.Join(entries, ",")
}

func Has(name string) bool {
	switch name {
	case ATMI:
		return atmiEnabled
	default:
		return name == Sim
	}
}
