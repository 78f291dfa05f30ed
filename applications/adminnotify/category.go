package adminnotify

// Category is one bit of the per-admin subscription bitmask
// (admin_notifications.rs's AdminNotificationSubscriptions, generalized
// from its per-field bools). An admin session can watch any OR of these;
// spec.md §4.8 groups the content pair as "initial+normal content".
type Category uint16

const (
	CategoryModerateContentBot Category = 1 << iota
	CategoryModerateContentHuman
	CategoryModerateProfileTextsBot
	CategoryModerateProfileTextsHuman
	CategoryModerateProfileNamesBot
	CategoryModerateProfileNamesHuman
	CategoryProcessReports
)

// allCategories lists every bit handle_pending_events re-checks, in the
// fixed order fire() walks them.
var allCategories = []Category{
	CategoryModerateContentBot,
	CategoryModerateContentHuman,
	CategoryModerateProfileTextsBot,
	CategoryModerateProfileTextsHuman,
	CategoryModerateProfileNamesBot,
	CategoryModerateProfileNamesHuman,
	CategoryProcessReports,
}

// Has reports whether flag is set in c.
func (c Category) Has(flag Category) bool {
	return c&flag != 0
}

// categoryPaths maps each category to the JSONPath expression fire() uses
// to pull its depth back out of the snapshot payload it builds, rather
// than switching on the Go struct directly (spec.md §4.8, SPEC_FULL.md's
// jsonpath wiring for "debounced fan-out filtering").
var categoryPaths = map[Category]string{
	CategoryModerateContentBot:        "$.content.bot",
	CategoryModerateContentHuman:      "$.content.human",
	CategoryModerateProfileTextsBot:   "$.profile_texts.bot",
	CategoryModerateProfileTextsHuman: "$.profile_texts.human",
	CategoryModerateProfileNamesBot:   "$.profile_names.bot",
	CategoryModerateProfileNamesHuman: "$.profile_names.human",
	CategoryProcessReports:            "$.reports",
}
