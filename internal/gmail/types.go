package gmail

// EmailSummary is the compact view of an unread message handed to the
// assistant and the HTTP API.
type EmailSummary struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet"`
	Subject string `json:"subject"`
	From    string `json:"from"`
}
