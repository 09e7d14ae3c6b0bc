// Package gmail wraps the Gmail API for the mail operations the assistant
// performs: listing unread messages, archiving and trashing, sending replies,
// and managing filter rules.
package gmail
