package domain

import "github.com/shopspring/decimal"

// Summary is the derived view the tracker broadcasts to subscribers after every
// state change. Completed24h and Failed24h count dismissed records too, for
// historical accuracy; the other counters skip dismissed records.
type Summary struct {
	Total        int             `json:"total"`
	Active       int             `json:"active"`
	Completed24h int             `json:"completed_24h"`
	Failed24h    int             `json:"failed_24h"`
	Unread       int             `json:"unread"`
	Volume24h    decimal.Decimal `json:"volume_24h"`
	Connection   ConnectionState `json:"connection"`
}

// HistoryPage is one page of the server's paginated action history.
type HistoryPage struct {
	Actions []*Action `json:"actions"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}
