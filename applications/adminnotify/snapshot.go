package adminnotify

import (
	"context"
	"encoding/json"

	"github.com/PaesslerAG/jsonpath"

	"github.com/nearloop/backend/domain/moderation"
)

// queueDepths is the JSON shape fire() builds each debounce cycle and
// then re-reads through categoryPaths, mirroring the queue-depth lists
// the original admin_notifications.rs module re-fetches per category.
type queueDepths struct {
	Content struct {
		Bot   int `json:"bot"`
		Human int `json:"human"`
	} `json:"content"`
	ProfileTexts struct {
		Bot   int `json:"bot"`
		Human int `json:"human"`
	} `json:"profile_texts"`
	ProfileNames struct {
		Bot   int `json:"bot"`
		Human int `json:"human"`
	} `json:"profile_names"`
	Reports int `json:"reports"`
}

// buildSnapshot queries only the categories set in pending, leaving the
// depth at zero (and therefore "not nonempty") for everything else.
func (m *Manager) buildSnapshot(ctx context.Context, pending Category) (queueDepths, error) {
	var d queueDepths

	contentDepth := func(initial, botVisible bool) (int, error) {
		return m.deps.Moderation.CountQueueDepth(ctx, moderation.TargetContent, initial, botVisible)
	}

	if pending.Has(CategoryModerateContentBot) {
		n, err := contentDepth(true, true)
		if err != nil {
			return d, err
		}
		if n == 0 {
			n, err = contentDepth(false, true)
			if err != nil {
				return d, err
			}
		}
		d.Content.Bot = n
	}
	if pending.Has(CategoryModerateContentHuman) {
		n, err := contentDepth(true, false)
		if err != nil {
			return d, err
		}
		if n == 0 {
			n, err = contentDepth(false, false)
			if err != nil {
				return d, err
			}
		}
		d.Content.Human = n
	}
	if pending.Has(CategoryModerateProfileTextsBot) {
		n, err := m.deps.Moderation.CountQueueDepth(ctx, moderation.TargetProfileText, false, true)
		if err != nil {
			return d, err
		}
		d.ProfileTexts.Bot = n
	}
	if pending.Has(CategoryModerateProfileTextsHuman) {
		n, err := m.deps.Moderation.CountQueueDepth(ctx, moderation.TargetProfileText, false, false)
		if err != nil {
			return d, err
		}
		d.ProfileTexts.Human = n
	}
	if pending.Has(CategoryModerateProfileNamesBot) {
		n, err := m.deps.Moderation.CountQueueDepth(ctx, moderation.TargetProfileName, false, true)
		if err != nil {
			return d, err
		}
		d.ProfileNames.Bot = n
	}
	if pending.Has(CategoryModerateProfileNamesHuman) {
		n, err := m.deps.Moderation.CountQueueDepth(ctx, moderation.TargetProfileName, false, false)
		if err != nil {
			return d, err
		}
		d.ProfileNames.Human = n
	}
	if pending.Has(CategoryProcessReports) && m.deps.Reports != nil {
		n, err := m.deps.Reports.CountWaitingReports(ctx)
		if err != nil {
			return d, err
		}
		d.Reports = n
	}

	return d, nil
}

// stillNonempty walks pending's set bits and, for each, evaluates its
// JSONPath expression against depths to decide whether the queue is
// still non-empty, returning the subset that is.
func stillNonempty(depths queueDepths, pending Category) (Category, error) {
	raw, err := json.Marshal(depths)
	if err != nil {
		return 0, err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, err
	}

	var final Category
	for _, cat := range allCategories {
		if !pending.Has(cat) {
			continue
		}
		v, err := jsonpath.Get(categoryPaths[cat], doc)
		if err != nil {
			continue
		}
		n, ok := v.(float64)
		if ok && n > 0 {
			final |= cat
		}
	}
	return final, nil
}
