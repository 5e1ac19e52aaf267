// Package warning holds the interstitial templates and renders the page
// shown in place of a blocked site.
package warning

import (
	"github.com/haukened/siteblock/internal/siteblock/domain"
)

var catalog = []domain.WarningTemplate{
	{
		ID:      "minimal",
		Name:    "Minimal",
		Title:   "Site Blocked",
		Message: "This site is on your block list.",
		Color:   "red",
		Icon:    "⚠️",
	},
	{
		ID:      "motivational",
		Name:    "Motivational",
		Title:   "Stay Focused! 🎯",
		Message: "You blocked this site to achieve your goals. Remember what you're working towards and stay on track!",
		Color:   "blue",
		Icon:    "🎯",
	},
	{
		ID:      "stern",
		Name:    "Stern",
		Title:   "⚠️ Access Denied",
		Message: "You've restricted access to this website. Continuing would break your commitment to yourself.",
		Color:   "red",
		Icon:    "⚠️",
	},
	{
		ID:      "humorous",
		Name:    "Humorous",
		Title:   "Oops! Wrong Turn 🙈",
		Message: "Looks like you wandered into the forbidden zone! Your future self thanks you for this block.",
		Color:   "purple",
		Icon:    "🙈",
	},
	{
		ID:      "professional",
		Name:    "Professional",
		Title:   "Productivity Notice",
		Message: "Access to this website has been restricted to maintain focus and productivity during designated work hours.",
		Color:   "amber",
		Icon:    "📋",
	},
	{
		ID:      "mindful",
		Name:    "Mindful",
		Title:   "Pause & Reflect 🧘‍♀️",
		Message: "Take a moment to breathe. What brought you here? Is this aligned with your intentions for today?",
		Color:   "green",
		Icon:    "🧘‍♀️",
	},
	{
		ID:      "gaming",
		Name:    "Gaming",
		Title:   "🎮 Quest Blocked!",
		Message: "This site is locked until you complete your real-world quests. Check your task list and level up!",
		Color:   "purple",
		Icon:    "🎮",
	},
	{
		ID:      "timer",
		Name:    "Time-focused",
		Title:   "⏰ Time Check",
		Message: "You blocked this site to save time. Consider: what could you accomplish with these saved minutes?",
		Color:   "blue",
		Icon:    "⏰",
	},
	{
		ID:      "christian_holiness",
		Name:    "Christian - Holiness",
		Title:   "✝️ Be Holy",
		Message: `"Be holy, because I am holy." - 1 Peter 1:16. Let your browsing honor God and reflect His character in your life.`,
		Color:   "purple",
		Icon:    "✝️",
	},
	{
		ID:      "christian_abstain",
		Name:    "Christian - Abstain",
		Title:   "✝️ Abstain from Evil",
		Message: `"Abstain from all appearance of evil." - 1 Thessalonians 5:22. Choose what is pure and pleasing to the Lord.`,
		Color:   "purple",
		Icon:    "✝️",
	},
	{
		ID:      "christian_renewal",
		Name:    "Christian - Renewal",
		Title:   "✝️ Renew Your Mind",
		Message: `"Be transformed by the renewing of your mind." - Romans 12:2. Fill your thoughts with what is true, noble, and pure.`,
		Color:   "blue",
		Icon:    "✝️",
	},
}

var byID = func() map[string]domain.WarningTemplate {
	m := make(map[string]domain.WarningTemplate, len(catalog))
	for _, t := range catalog {
		m[t.ID] = t
	}
	return m
}()

// Templates returns the catalog in display order.
func Templates() []domain.WarningTemplate {
	return append([]domain.WarningTemplate(nil), catalog...)
}

// Lookup returns the template with id.
func Lookup(id string) (domain.WarningTemplate, bool) {
	t, ok := byID[id]
	return t, ok
}

// Resolve returns the template with id, or the default template when id is unknown.
func Resolve(id string) domain.WarningTemplate {
	if t, ok := byID[id]; ok {
		return t
	}
	return byID[domain.DefaultTemplateID]
}
