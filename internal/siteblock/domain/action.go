package domain

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultRedirectURL is used whenever a redirect or continue target is missing or malformed.
	DefaultRedirectURL = "https://google.com"
	// DefaultTemplateID is the warning template used when none, or an unknown one, is configured.
	DefaultTemplateID = "minimal"
)

// ActionType names a block action variant.
type ActionType string

const (
	ActionRedirect ActionType = "redirect"
	ActionClose    ActionType = "close"
	ActionWarning  ActionType = "warning"
)

// ParseActionType converts a string into an ActionType (case-insensitive).
func ParseActionType(s string) (ActionType, error) {
	switch t := ActionType(strings.ToLower(strings.TrimSpace(s))); t {
	case ActionRedirect, ActionClose, ActionWarning:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported action type: %q", s)
	}
}

// BlockAction is what happens to a blocked navigation. It is a closed sum
// type: RedirectAction, CloseAction or WarningAction.
type BlockAction interface {
	Type() ActionType
	isBlockAction()
}

// RedirectAction replaces the blocked navigation with URL.
type RedirectAction struct {
	URL string
}

// CloseAction closes the tab that navigated to the blocked site.
type CloseAction struct{}

// WarningAction replaces the page with an interstitial built from the
// TemplateID template. ContinueURL is offered as the "continue" target.
type WarningAction struct {
	TemplateID  string
	ContinueURL string
}

func (RedirectAction) Type() ActionType { return ActionRedirect }
func (CloseAction) Type() ActionType    { return ActionClose }
func (WarningAction) Type() ActionType  { return ActionWarning }

func (RedirectAction) isBlockAction() {}
func (CloseAction) isBlockAction()    {}
func (WarningAction) isBlockAction()  {}

// Target returns the redirect destination, falling back to DefaultRedirectURL.
func (a RedirectAction) Target() string { return resolveTarget(a.URL) }

// ContinueTarget returns the continue destination, falling back to DefaultRedirectURL.
func (a WarningAction) ContinueTarget() string { return resolveTarget(a.ContinueURL) }

// Template returns the configured template id, or DefaultTemplateID when empty.
// Unknown ids are resolved against the catalog by the renderer.
func (a WarningAction) Template() string {
	if id := strings.TrimSpace(a.TemplateID); id != "" {
		return id
	}
	return DefaultTemplateID
}

// DefaultAction is the action used when none has been stored.
func DefaultAction() BlockAction {
	return RedirectAction{URL: DefaultRedirectURL}
}

// resolveTarget returns raw when it is an absolute http(s) URL with a host.
func resolveTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return DefaultRedirectURL
	}
	return raw
}

// StoredAction is the persisted shape of a BlockAction under the
// site.block.action key. Warning actions keep their continue URL in
// RedirectURL.
type StoredAction struct {
	Type            string `json:"type"`
	RedirectURL     string `json:"redirectUrl,omitempty"`
	WarningTemplate string `json:"warningTemplate,omitempty"`
}

// Action converts the stored shape into its variant. Unknown types resolve
// to DefaultAction so a blocked navigation is never left without an action.
func (s StoredAction) Action() BlockAction {
	switch ActionType(s.Type) {
	case ActionRedirect:
		return RedirectAction{URL: s.RedirectURL}
	case ActionClose:
		return CloseAction{}
	case ActionWarning:
		return WarningAction{TemplateID: s.WarningTemplate, ContinueURL: s.RedirectURL}
	default:
		return DefaultAction()
	}
}

// StoreAction converts a BlockAction into its persisted shape.
func StoreAction(a BlockAction) StoredAction {
	switch v := a.(type) {
	case RedirectAction:
		return StoredAction{Type: string(ActionRedirect), RedirectURL: v.URL}
	case CloseAction:
		return StoredAction{Type: string(ActionClose)}
	case WarningAction:
		return StoredAction{Type: string(ActionWarning), RedirectURL: v.ContinueURL, WarningTemplate: v.TemplateID}
	default:
		return StoreAction(DefaultAction())
	}
}
