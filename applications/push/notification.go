// Package push implements the external FCM push-notification sender and
// its adaptive send-rate/backoff policy (C7, spec.md §4.7).
package push

import (
	"github.com/nearloop/backend/domain/account"
)

// Content is a single notification's user-visible text. The server
// builds one Content per set pending-notification bit (spec.md §3); title
// and body are currently a single fixed locale, no per-client language
// negotiation.
type Content struct {
	Flag  account.NotificationFlag
	Title string
	Body  string
}

// BuildContents turns a pending-notification bitmask into the ordered
// list of notifications to send, one per set bit (spec.md §4.7: "the
// corresponding flag is OR-ed in and the external push sender is
// invoked").
func BuildContents(flags account.NotificationFlag) []Content {
	var out []Content
	for _, c := range contentTable {
		if flags&c.Flag != 0 {
			out = append(out, c)
		}
	}
	return out
}

var contentTable = []Content{
	{Flag: account.NotificationNewMessage, Title: "New message", Body: "You have a new message waiting."},
	{Flag: account.NotificationReceivedLikesChanged, Title: "New like", Body: "Someone liked you."},
	{Flag: account.NotificationMediaModerationCompleted, Title: "Media reviewed", Body: "One of your media uploads was reviewed."},
	{Flag: account.NotificationNewsChanged, Title: "News", Body: "There's something new to read."},
	{Flag: account.NotificationProfileStringModerationCompleted, Title: "Profile reviewed", Body: "Your profile text was reviewed."},
	{Flag: account.NotificationAutomaticSearchCompleted, Title: "New matches nearby", Body: "We found new profiles for you."},
	{Flag: account.NotificationAdmin, Title: "Notice", Body: "You have an admin notification."},
}
