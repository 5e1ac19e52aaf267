package domain

// WarningTemplate is immutable reference data for the interstitial page.
type WarningTemplate struct {
	ID      string
	Name    string
	Title   string
	Message string
	Color   string
	Icon    string
}
